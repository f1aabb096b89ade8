package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/preferences"
	"github.com/jrsteele09/go-auth-client/realtime"
	"github.com/jrsteele09/go-auth-client/users"
	"golang.org/x/sync/errgroup"
)

type command struct {
	help string
	run  func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"login":          {"login -email <email> [-password <password>] (password defaults to $AUTH_PASSWORD)", cmdLogin},
	"login-provider": {"login-provider -provider github|google", cmdLoginProvider},
	"signup":         {"signup -email <email> -username <name> [-password <password>]", cmdSignup},
	"logout":         {"logout", cmdLogout},
	"whoami":         {"whoami", cmdWhoami},
	"status":         {"status", cmdStatus},
	"refresh":        {"refresh", cmdRefresh},
	"update":         {"update [-first-name ..] [-last-name ..] [-bio ..] [-university ..] [-year-of-study n]", cmdUpdate},
	"interests":      {"interests [add|remove <id>]", cmdInterests},
	"listen":         {"listen (streams realtime events until interrupted)", cmdListen},
	"lang":           {"lang [tag]", cmdLang},
	"theme":          {"theme [light|dark|system]", cmdTheme},
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "usage: client <command> [flags]")
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].help)
	}
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("AUTH_PASSWORD"), "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := a.manager.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	printUser(a.out, u)
	return nil
}

func cmdLoginProvider(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login-provider", flag.ContinueOnError)
	provider := fs.String("provider", auth.ProviderGitHub, "github or google")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Complete the sign in in your browser...")
	u, err := a.manager.LoginWithProvider(ctx, *provider)
	if err != nil {
		return err
	}
	printUser(a.out, u)
	return nil
}

func cmdSignup(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	var req api.SignupRequest
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Username, "username", "", "username")
	fs.StringVar(&req.Password, "password", os.Getenv("AUTH_PASSWORD"), "password")
	fs.StringVar(&req.FirstName, "first-name", "", "first name")
	fs.StringVar(&req.LastName, "last-name", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	u, err := a.manager.Signup(ctx, req)
	if err != nil {
		return err
	}
	printUser(a.out, u)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	a.manager.Logout(ctx)
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func cmdWhoami(_ context.Context, a *app, _ []string) error {
	u := a.manager.CurrentUser()
	if u == nil {
		fmt.Fprintln(a.out, "Not signed in")
		return nil
	}
	printUser(a.out, u)
	return nil
}

func cmdStatus(ctx context.Context, a *app, _ []string) error {
	fmt.Fprintf(a.out, "API:           %s\n", a.cfg.GetAPIURL())
	fmt.Fprintf(a.out, "Signed in:     %t\n", a.manager.IsAuthenticated(ctx))
	if u := a.manager.CurrentUser(); u != nil {
		fmt.Fprintf(a.out, "User:          %s (%s)\n", u.DisplayName(), u.Role)
	}
	if exp, ok := a.manager.TokenExpiry(ctx); ok {
		fmt.Fprintf(a.out, "Token expires: %s (%s)\n", exp.Local().Format(time.RFC1123), time.Until(exp).Round(time.Second))
	}
	lang, err := a.prefs.Language(ctx)
	if err != nil {
		return err
	}
	theme, err := a.prefs.Theme(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Language:      %s\n", lang)
	fmt.Fprintf(a.out, "Theme:         %s\n", theme.Label())
	return nil
}

func cmdRefresh(ctx context.Context, a *app, _ []string) error {
	if err := a.manager.Refresh(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Tokens refreshed")
	return nil
}

func cmdUpdate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	firstName := fs.String("first-name", "", "first name")
	lastName := fs.String("last-name", "", "last name")
	bio := fs.String("bio", "", "bio")
	university := fs.String("university", "", "university")
	year := fs.Int("year-of-study", 0, "year of study")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// only flags given on the command line are sent
	var u users.Update
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first-name":
			u.FirstName = firstName
		case "last-name":
			u.LastName = lastName
		case "bio":
			u.Bio = bio
		case "university":
			u.University = university
		case "year-of-study":
			u.YearOfStudy = year
		}
	})

	updated, err := a.manager.UpdateUser(ctx, u)
	if err != nil {
		return err
	}
	printUser(a.out, updated)
	return nil
}

func cmdInterests(ctx context.Context, a *app, args []string) error {
	client := a.manager.API()
	if len(args) == 2 {
		switch args[0] {
		case "add":
			return client.AddInterest(ctx, args[1])
		case "remove":
			return client.RemoveInterest(ctx, args[1])
		}
		return fmt.Errorf("unknown interests action %q", args[0])
	}

	interests, err := client.Interests(ctx)
	if err != nil {
		return err
	}
	for _, in := range interests {
		fmt.Fprintf(a.out, "%s\t%s\n", in.ID, in.Name)
	}
	return nil
}

func cmdListen(ctx context.Context, a *app, _ []string) error {
	bus := realtime.NewBus(realtime.WithBusLogger(a.log))
	client, err := realtime.New(a.cfg.GetRealtimeURL(), a.manager, bus,
		realtime.WithReconnectInterval(a.cfg.GetReconnectInterval()),
		realtime.WithMaxReconnectAttempts(a.cfg.GetMaxReconnectAttempts()),
		realtime.WithLogger(a.log),
	)
	if err != nil {
		return err
	}
	events, unsubscribe := bus.Subscribe(realtime.AllTopics)
	signedIn, unsubscribeUser := a.manager.Subscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer unsubscribe()
		defer unsubscribeUser()
		return client.Run(ctx)
	})
	g.Go(func() error {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				fmt.Fprintf(a.out, "[%s] %s %s\n", time.Now().Format(time.TimeOnly), ev.Type, string(ev.Data))
			case u, ok := <-signedIn:
				if !ok {
					signedIn = nil
					continue
				}
				// a signed out session has nothing left to listen to
				if u == nil {
					return client.Close()
				}
			case <-ctx.Done():
				return client.Close()
			}
		}
	})
	return g.Wait()
}

func cmdLang(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		lang, err := a.prefs.Language(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, lang)
		return nil
	}
	lang, err := a.prefs.SetLanguage(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, lang)
	return nil
}

func cmdTheme(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		theme, err := a.prefs.Theme(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, theme)
		return nil
	}
	return a.prefs.SetTheme(ctx, preferences.Theme(args[0]))
}

func printUser(w io.Writer, u *users.Snapshot) {
	fmt.Fprintf(w, "%s <%s>\n", u.DisplayName(), u.Email)
	fmt.Fprintf(w, "  id:       %s\n", u.ID)
	fmt.Fprintf(w, "  username: %s\n", u.Username)
	fmt.Fprintf(w, "  role:     %s\n", u.Role)
	if u.IsAdmin() {
		fmt.Fprintln(w, "  (admin)")
	}
}
