package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"switchboard/internal/api"
	"switchboard/internal/auth"
	"switchboard/internal/chat"
	"switchboard/internal/commands"
	"switchboard/internal/config"
	"switchboard/internal/http"
	"switchboard/internal/models"
	"switchboard/internal/observability"
	"switchboard/internal/presence"
	"switchboard/internal/push"
	"switchboard/internal/realtime"
	"switchboard/internal/router"
	"switchboard/internal/storage"
	"switchboard/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type cliFlags struct {
	addUser    string
	addCompany string
	issueToken string
	name       string
	image      string
	role       string
}

func (f cliFlags) any() bool {
	return f.addUser != "" || f.addCompany != "" || f.issueToken != ""
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("switchboard", flag.ContinueOnError)
	fs.StringVar(&f.addUser, "add-user", "", "User id to create or update on a running server")
	fs.StringVar(&f.addCompany, "add-company", "", "Company id to create or update on a running server")
	fs.StringVar(&f.issueToken, "issue-token", "", "Id to issue a bearer token for")
	fs.StringVar(&f.name, "name", "", "Display name for -add-user and -add-company")
	fs.StringVar(&f.image, "image", "", "Image URL for -add-user and -add-company")
	fs.StringVar(&f.role, "role", string(models.RoleUser), "Role for -issue-token (USER, ADMIN, SUPER_ADMIN)")
	err := fs.Parse(args)
	return f, err
}

func runCommand(f cliFlags, cfg *config.Config) error {
	name := f.name
	switch {
	case f.addUser != "":
		if name == "" {
			name = f.addUser
		}
		return commands.AddUser(f.addUser, name, f.image, cfg)
	case f.addCompany != "":
		if name == "" {
			name = f.addCompany
		}
		return commands.AddCompany(f.addCompany, name, f.image, cfg)
	default:
		return commands.IssueToken(f.issueToken, models.Role(f.role), cfg)
	}
}

func run(ctx context.Context, args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(flags.any())
	if err != nil {
		return err
	}

	if flags.any() {
		return runCommand(flags, cfg)
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.JWTSecret)),
		TokenExpiry: cfg.TokenExpiry,
		CacheTTL:    cfg.TokenCacheTTL,
	})
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	var pusher router.Pusher
	if cfg.PushEnabled() {
		notifier, err := push.NewNotifier(push.Config{
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			Subscriber:      cfg.VAPIDSubscriber,
			HTTPClient:      &oshttp.Client{Timeout: 10 * time.Second},
		}, bbStorage, logger)
		if err != nil {
			return err
		}
		pusher = notifier
	}

	hub := ws.NewHub(cfg.SendBuffer)
	directory := presence.NewDirectory()
	channels := chat.New(chat.Config{
		Store:      bbStorage,
		Idempotent: cfg.IdempotentChannels,
		Log:        logger,
	})
	messageRouter := router.New(router.Config{
		Store:    bbStorage,
		Presence: directory,
		Emitter:  hub,
		Pusher:   pusher,
		Metrics:  metrics,
		Log:      logger,
	})
	lifecycle := realtime.New(ctx, realtime.Config{
		Presence:       directory,
		Channels:       channels,
		Router:         messageRouter,
		Notifications:  bbStorage,
		Emitter:        hub,
		FlushMarksRead: cfg.FlushMarksRead,
		Metrics:        metrics,
		Log:            logger,
	})
	wsServer := ws.NewServer(ws.ServerConfig{
		Auth:           authService,
		Hub:            hub,
		Handler:        lifecycle,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            logger,
	})

	adminServer := http.NewAdminServer(api.NewAdminHandler(authService, bbStorage, logger), registry, cfg.AdminAddr, logger)
	apiServer := http.NewAPIServer(api.New(authService, bbStorage, logger), wsServer, cfg.APIAddr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		if err := adminServer.Start(); err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	// Pushes still in flight may prune subscriptions and need the store.
	messageRouter.Wait()
	return err
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
