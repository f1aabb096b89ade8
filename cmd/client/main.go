package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/authorizer"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/kvstore"
	"github.com/jrsteele09/go-auth-client/kvstore/memstore"
	"github.com/jrsteele09/go-auth-client/kvstore/sqlitestore"
	"github.com/jrsteele09/go-auth-client/popup"
	"github.com/jrsteele09/go-auth-client/popup/loopback"
	"github.com/jrsteele09/go-auth-client/preferences"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %s\n", err)
	}
}

// app is everything a command needs.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	store    kvstore.Store
	manager  *auth.Manager
	prefs    *preferences.Preferences
	registry *prometheus.Registry
	out      io.Writer
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if len(args) == 0 {
		usage(os.Stderr)
		return errors.New("no command given")
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	c := config.New()
	if c.GetEnv() == "DEV" {
		displayAppname(c.GetAppName())
	}

	a, closeApp, err := newApp(c, os.Stdout)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.manager.Restore(ctx)
	defer a.logMetrics()
	return cmd.run(ctx, a, args[1:])
}

func newApp(c config.Config, out io.Writer) (*app, func(), error) {
	logger := logging.New(os.Stderr, c.GetLogLevel(), c.GetEnv())

	store, closeStore, err := openStore(c)
	if err != nil {
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	flow := popup.NewFlow(loopback.New(loopback.WithLogger(logger)),
		popup.WithPollInterval(c.GetOAuthPollInterval()),
		popup.WithTimeout(c.GetOAuthTimeout()),
		popup.WithLogger(logger),
	)
	manager, err := auth.NewManager(c.GetAPIURL(), store,
		auth.WithLogger(logger),
		auth.WithHTTPClient(&http.Client{Timeout: c.GetHTTPTimeout()}),
		auth.WithClientID(c.GetClientID()),
		auth.WithPopupFlow(flow),
		auth.WithMetrics(authorizer.NewMetrics(registry)),
	)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	prefs, err := preferences.New(store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	return &app{
		cfg:      c,
		log:      logger,
		store:    store,
		manager:  manager,
		prefs:    prefs,
		registry: registry,
		out:      out,
	}, closeStore, nil
}

func openStore(c config.Config) (kvstore.Store, func(), error) {
	switch c.GetStoreDriver() {
	case config.StoreDriverMemory:
		return memstore.New(), func() {}, nil
	case config.StoreDriverSQLite:
		s, err := sqlitestore.Open(filepath.Join(c.GetDataFolder(), "session.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("opening session store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", c.GetStoreDriver())
	}
}

// logMetrics dumps the authorizer counters at debug level.
func (a *app) logMetrics() {
	families, err := a.registry.Gather()
	if err != nil {
		a.log.Debug().Err(err).Msg("gathering metrics")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			ev := a.log.Debug().Str("metric", mf.GetName()).Float64("value", m.GetCounter().GetValue())
			for _, l := range m.GetLabel() {
				ev = ev.Str(l.GetName(), l.GetValue())
			}
			ev.Msg("metric")
		}
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
