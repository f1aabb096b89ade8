// Package loopback implements popup.Opener for a desktop/CLI client: the
// provider page is opened in the system browser and posts its completion
// message to a short lived HTTP listener on 127.0.0.1.
package loopback

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/popup"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	CallbackPath = "/callback"
	ClosedPath   = "/closed"

	doneHTML = `<!doctype html><title>Signed in</title><p>You can close this window.</p>`
)

// Opener starts a loopback listener per Open call.
type Opener struct {
	addr   string
	launch func(url string) error
	log    zerolog.Logger
}

type Option func(*Opener)

// WithAddr sets the listen address (default 127.0.0.1:0).
func WithAddr(addr string) Option {
	return func(o *Opener) {
		o.addr = addr
	}
}

// WithLauncher replaces the system browser launcher.
func WithLauncher(launch func(url string) error) Option {
	return func(o *Opener) {
		o.launch = launch
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *Opener) {
		o.log = log
	}
}

func New(options ...Option) *Opener {
	o := &Opener{
		addr:   "127.0.0.1:0",
		launch: OpenBrowser,
		log:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

var _ popup.Opener = (*Opener)(nil)

// Open listens, then launches authURL with redirect_uri and state appended.
func (o *Opener) Open(ctx context.Context, authURL string) (popup.Window, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", o.addr)
	if err != nil {
		return nil, errors.Wrap(err, "[loopback Open] listen")
	}

	w := &window{
		state:    uuid.NewString(),
		messages: make(chan popup.Message, 1),
		log:      o.log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, w.handleCallback)
	mux.HandleFunc(ClosedPath, w.handleClosed)
	w.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := w.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			o.log.Warn().Err(err).Msg("loopback listener stopped")
		}
		w.closed.Store(true)
	}()

	target, err := withCallback(authURL, "http://"+ln.Addr().String()+CallbackPath, w.state)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := o.launch(target); err != nil {
		_ = w.Close()
		return nil, errors.Wrap(err, "[loopback Open] launching browser")
	}
	return w, nil
}

func withCallback(authURL, redirectURI, state string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", errors.Wrap(err, "[loopback] invalid authorization URL")
	}
	q := u.Query()
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type window struct {
	state    string
	messages chan popup.Message
	srv      *http.Server
	closed   atomic.Bool
	once     sync.Once
	log      zerolog.Logger
}

func (w *window) Messages() <-chan popup.Message {
	return w.messages
}

func (w *window) Closed() bool {
	return w.closed.Load()
}

func (w *window) Close() error {
	var err error
	w.once.Do(func() {
		w.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = w.srv.Shutdown(ctx)
	})
	return err
}

// handleCallback accepts the completion message either as query parameters
// (redirect) or as a JSON body (fetch from the provider page).
func (w *window) handleCallback(rw http.ResponseWriter, r *http.Request) {
	var msg popup.Message
	var state string

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		msg = popup.Message{
			Type:     q.Get("type"),
			Provider: q.Get("provider"),
			Token:    q.Get("token"),
			Error:    q.Get("error"),
		}
		state = q.Get("state")
	case http.MethodPost:
		var body struct {
			popup.Message
			State string `json:"state"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 16<<10)).Decode(&body); err != nil {
			http.Error(rw, "invalid message", http.StatusBadRequest)
			return
		}
		msg, state = body.Message, body.State
	default:
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if state != w.state {
		w.log.Warn().Str("provider", msg.Provider).Msg("rejecting callback with unknown state")
		http.Error(rw, "unknown state", http.StatusForbidden)
		return
	}

	select {
	case w.messages <- msg:
	default:
		// only the first message counts
	}

	if r.Method == http.MethodGet {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(rw, doneHTML)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// handleClosed lets the provider page report that it is being closed.
func (w *window) handleClosed(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("state") != w.state {
		http.Error(rw, "unknown state", http.StatusForbidden)
		return
	}
	w.closed.Store(true)
	rw.WriteHeader(http.StatusNoContent)
}

// OpenBrowser opens url with the platform's default handler.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
