package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/admin"
	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/auth"
	"github.com/prepstock/go-prepstock-client/groups"
	"github.com/prepstock/go-prepstock-client/imagecache"
	"github.com/prepstock/go-prepstock-client/internal/config"
	"github.com/prepstock/go-prepstock-client/internal/obs"
	"github.com/prepstock/go-prepstock-client/invites"
	"github.com/prepstock/go-prepstock-client/session"
	"github.com/prepstock/go-prepstock-client/storage/filekv"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

type app struct {
	sessions *session.Store
	authSvc  *auth.Service
	groupSvc *groups.Service
	adminSvc *admin.Service
	invites  *invites.Manager
	images   *imagecache.Cache
}

func run(args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	obs.Init()

	cfg := config.New()
	if len(args) == 0 {
		displayAppname(cfg.GetAppName())
		usage()
		return nil
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		return app.login(ctx, args[1:])
	case "logout":
		app.authSvc.Logout(ctx)
		return nil
	case "groups":
		return app.listGroups(ctx)
	case "validate":
		return app.validateInvite(ctx, args[1:])
	case "redeem":
		return app.redeemInvites(ctx)
	case "invites":
		return app.listPending()
	case "cache-stats":
		return app.cacheStats()
	case "whoami":
		return app.whoami(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func newApp(cfg config.Config) (*app, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	kv, err := filekv.Open(filepath.Join(home, ".prepstock", "state.json"))
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(kv)
	if err != nil {
		return nil, err
	}
	api, err := apiclient.New(cfg.GetBaseURL(), sessions,
		apiclient.WithHTTPClient(&http.Client{Timeout: cfg.GetRequestTimeout()}),
		apiclient.WithLoginRedirect(func() {
			fmt.Fprintf(os.Stderr, "session expired, run `prepstock login` (%s)\n", cfg.GetLoginRoute())
		}),
	)
	if err != nil {
		return nil, err
	}

	pending, err := invites.NewPendingStore(kv)
	if err != nil {
		return nil, err
	}
	tokens, err := invites.NewTokenStore(kv)
	if err != nil {
		return nil, err
	}
	inviteManager, err := invites.NewManager(api, pending, tokens, kv,
		invites.WithValidateHTTPClient(&http.Client{Timeout: cfg.GetRedeemTimeout()}),
		invites.WithRedeemAllTimeout(cfg.GetRedeemAllTimeout()),
	)
	if err != nil {
		return nil, err
	}

	images, err := imagecache.New(kv)
	if err != nil {
		return nil, err
	}
	groupSvc, err := groups.NewService(api, images, inviteManager)
	if err != nil {
		return nil, err
	}
	adminSvc, err := admin.NewService(api)
	if err != nil {
		return nil, err
	}
	authSvc, err := auth.NewService(api, sessions, kv)
	if err != nil {
		return nil, err
	}

	return &app{
		sessions: sessions,
		authSvc:  authSvc,
		groupSvc: groupSvc,
		adminSvc: adminSvc,
		invites:  inviteManager,
		images:   images,
	}, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("login requires -email and -password")
	}

	sess, err := a.authSvc.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", sess.Username)

	// Pick up any invites remembered before this login.
	return a.invites.RedeemAll(ctx, fmt.Sprintf("%d", sess.ID), sess.Email)
}

func (a *app) whoami(ctx context.Context) error {
	sess := a.sessions.Load()
	if !sess.LoggedIn() {
		fmt.Println("not logged in")
		return nil
	}
	fmt.Printf("%s <%s>\n", sess.Username, sess.Email)

	if v, err := a.adminSvc.Validate(ctx); err == nil && v.IsAdmin {
		fmt.Println("admin (server-verified)")
	}
	return nil
}

func (a *app) listGroups(ctx context.Context) error {
	list, err := a.groupSvc.List(ctx)
	if err != nil {
		return err
	}
	for _, g := range list {
		fmt.Printf("%d\t%s\t%s\n", g.ID, g.Name, g.Description)
	}
	return nil
}

func (a *app) validateInvite(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	token := fs.String("token", "", "invite token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return fmt.Errorf("validate requires -token")
	}

	v, err := a.invites.Validate(ctx, *token)
	if err != nil {
		return err
	}
	fmt.Printf("invite to %q from %s, expires %s\n",
		v.GroupName, v.InviterName, time.UnixMilli(v.ExpiresAt).Format(time.RFC822))

	// Remember it for redemption after the next login.
	return a.invites.Pending().Store(*token, v.GroupID, v.GroupName, v.InviterName, v.ExpiresAt, nil)
}

func (a *app) redeemInvites(ctx context.Context) error {
	sess := a.sessions.Load()
	if !sess.LoggedIn() {
		return fmt.Errorf("not logged in")
	}
	return a.invites.RedeemAll(ctx, fmt.Sprintf("%d", sess.ID), sess.Email)
}

func (a *app) listPending() error {
	pending := a.invites.Pending().List()
	if len(pending) == 0 {
		fmt.Println("no pending invites")
		return nil
	}
	for _, p := range pending {
		fmt.Printf("%s\t%s\tby %s\texpires %s\n",
			p.Token, p.GroupName, p.InviterName, time.UnixMilli(p.ExpiresAt).Format(time.RFC822))
	}
	return nil
}

func (a *app) cacheStats() error {
	stats := a.images.Stats()
	fmt.Printf("%d cached images, %d bytes, oldest %s\n",
		stats.Count, stats.TotalSize, time.UnixMilli(stats.OldestTimestamp).Format(time.RFC822))
	return nil
}

func usage() {
	fmt.Println("usage: prepstock <login|logout|whoami|groups|validate|redeem|invites|cache-stats>")
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
