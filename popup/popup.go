// Package popup drives an external provider login: open a window on the
// provider's authorization page and wait for exactly one completion message.
//
// The wait ends on the first of: a trusted success or error message for the
// provider, the window being found closed, the optional timeout, or ctx ending.
// Whatever the exit, the poll ticker, the timer and the window are torn down.
package popup

import (
	"context"
	"time"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	MessageTypeSuccess = "oauth-success"
	MessageTypeError   = "oauth-error"

	DefaultPollInterval = 500 * time.Millisecond
)

// Message is what the provider page posts back to the opener.
type Message struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	Token    string `json:"token,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Window is an opened provider page.
type Window interface {
	// Messages delivers posted messages. Implementations drop untrusted senders.
	Messages() <-chan Message
	// Closed reports whether the user closed the window.
	Closed() bool
	// Close tears the window and its listener down. It must be idempotent.
	Close() error
}

// Opener opens the provider authorization URL.
type Opener interface {
	Open(ctx context.Context, authURL string) (Window, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, authURL string) (Window, error)

func (f OpenerFunc) Open(ctx context.Context, authURL string) (Window, error) {
	return f(ctx, authURL)
}

type Flow struct {
	opener       Opener
	pollInterval time.Duration
	timeout      time.Duration
	log          zerolog.Logger
}

type FlowOption func(*Flow)

// WithPollInterval sets how often the window is checked for having been closed.
func WithPollInterval(d time.Duration) FlowOption {
	return func(f *Flow) {
		f.pollInterval = d
	}
}

// WithTimeout bounds the wait. Zero waits indefinitely.
func WithTimeout(d time.Duration) FlowOption {
	return func(f *Flow) {
		f.timeout = d
	}
}

func WithLogger(log zerolog.Logger) FlowOption {
	return func(f *Flow) {
		f.log = log
	}
}

func NewFlow(opener Opener, options ...FlowOption) *Flow {
	f := &Flow{
		opener:       opener,
		pollInterval: DefaultPollInterval,
		log:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(f)
	}
	if f.pollInterval <= 0 {
		f.pollInterval = DefaultPollInterval
	}
	return f
}

// Await opens authURL and returns the provider token from the first matching
// success message.
func (f *Flow) Await(ctx context.Context, authURL, provider string) (string, error) {
	if f.opener == nil {
		return "", errors.New("[popup Await] no opener configured")
	}
	win, err := f.opener.Open(ctx, authURL)
	if err != nil {
		return "", errors.Wrap(err, "[popup Await] opening window")
	}
	defer func() {
		if err := win.Close(); err != nil {
			f.log.Debug().Err(err).Msg("closing provider window")
		}
	}()

	poll := time.NewTicker(f.pollInterval)
	defer poll.Stop()

	var timeout <-chan time.Time
	if f.timeout > 0 {
		timer := time.NewTimer(f.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	messages := win.Messages()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return "", apperrors.ErrOAuthWindowClosed
			}
			if tok, done, err := f.handle(msg, provider); done {
				return tok, err
			}
		case <-poll.C:
			if !win.Closed() {
				continue
			}
			// a message posted just before the window closed still counts
			for {
				select {
				case msg, ok := <-messages:
					if !ok {
						return "", apperrors.ErrOAuthWindowClosed
					}
					if tok, done, err := f.handle(msg, provider); done {
						return tok, err
					}
				default:
					return "", apperrors.ErrOAuthWindowClosed
				}
			}
		case <-timeout:
			return "", apperrors.ErrOAuthTimeout
		case <-ctx.Done():
			return "", errors.Wrap(apperrors.ErrOAuthCancelled, ctx.Err().Error())
		}
	}
}

// handle reports done for a success or error message addressed to provider.
func (f *Flow) handle(msg Message, provider string) (string, bool, error) {
	if msg.Provider != provider {
		f.log.Debug().Str("type", msg.Type).Str("provider", msg.Provider).Msg("ignoring message for another provider")
		return "", false, nil
	}
	switch msg.Type {
	case MessageTypeSuccess:
		if msg.Token == "" {
			return "", true, errors.Wrap(apperrors.ErrOAuthCancelled, "success message without token")
		}
		return msg.Token, true, nil
	case MessageTypeError:
		return "", true, errors.Wrap(apperrors.ErrOAuthCancelled, msg.Error)
	default:
		f.log.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
		return "", false, nil
	}
}
