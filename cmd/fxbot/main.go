package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"fxbot/internal/adapter/fetcher"
	"fxbot/internal/adapter/matrix"
	"fxbot/internal/adapter/resolver"
	"fxbot/internal/adapter/store"
	"fxbot/internal/domain"
	"fxbot/internal/infra/config"
	"fxbot/internal/infra/logger"
	"fxbot/internal/infra/tracer"
	"fxbot/internal/usecase"
)

func main() {
	// Optional .env file for local runs; ignored when absent.
	_ = godotenv.Load()

	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "login":
		if err := runLogin(); err != nil {
			fmt.Fprintf(os.Stderr, "login: %v\n", err)
			os.Exit(1)
		}
	case "encrypt":
		if err := runEncrypt(); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'fxbot --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`fxbot - Matrix bot that republishes X/Twitter post links

USAGE:
    fxbot [COMMAND] [FLAGS]

COMMANDS:
    login       Authenticate against the homeserver and store the session
    encrypt     Encrypt a secret for use as an "enc:" config value

    (no command) - Run the bot with the stored session

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

LOGIN FLAGS:
    --homeserver URL   Homeserver base URL (or matrix.homeserver in config)
    --user NAME        Localpart or full user ID for password login
    --token TOKEN      Login token as an alternative to a password

CONFIGURATION:
    Config file: ./config.yaml
    Environment: FXBOT_* variables override config

EXAMPLES:
    fxbot login --homeserver https://matrix.example.org --user bot
    fxbot                          # Run with config.yaml
    fxbot --config /etc/fxbot.yaml
    FXBOT_CONFIG_KEY=pass fxbot encrypt`)
}

// flagValue extracts a single --name VALUE or --name=VALUE flag from
// os.Args.
func flagValue(name string) string {
	prefix := "--" + name
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == prefix && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], prefix+"="):
			return strings.TrimPrefix(os.Args[i], prefix+"=")
		}
	}
	return ""
}

func configPath() string {
	if path := flagValue("config"); path != "" {
		return path
	}
	return "./config.yaml"
}

// newHTTPClient builds the shared outbound client. Every network
// dependency (homeserver, embed API, media CDN) goes through it, so
// the timeouts here bound the whole process.
func newHTTPClient(cfg config.HTTPConfig, proxy string) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Shared HTTP client
	httpClient, err := newHTTPClient(cfg.HTTP, cfg.Matrix.Proxy)
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}

	// 4. Session store
	sessions, err := store.NewSQLiteSessionStore(cfg.Matrix.Database)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessions.Close()

	// A token provisioned via config replaces whatever session is
	// stored, so redeployments with a fresh token just work.
	if cfg.Matrix.AccessToken != "" {
		if cfg.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.access_token requires matrix.homeserver")
		}
		err := sessions.Save(ctx, domain.SessionState{
			Homeserver:  cfg.Matrix.Homeserver,
			AccessToken: cfg.Matrix.AccessToken,
		})
		if err != nil {
			return fmt.Errorf("store provisioned session: %w", err)
		}
	}

	// 5. Matrix client
	client, err := matrix.NewClient(matrix.Config{
		Store:       sessions,
		HTTPClient:  httpClient,
		Logger:      log,
		SyncTimeout: cfg.Matrix.SyncTimeout,
	})
	if err != nil {
		return fmt.Errorf("matrix client: %w", err)
	}

	// 6. Resolver & fetcher
	posts, err := resolver.New(resolver.Config{
		APIHost:            cfg.Resolver.APIHost,
		HTTPClient:         httpClient,
		Logger:             log,
		UserAgent:          cfg.HTTP.UserAgent,
		RequestsPerMin:     cfg.Resolver.RequestsPerMin,
		BurstSize:          cfg.Resolver.BurstSize,
		BreakerMaxFailures: cfg.Resolver.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Resolver.Breaker.Timeout,
		BreakerInterval:    cfg.Resolver.Breaker.Interval,
	})
	if err != nil {
		return fmt.Errorf("resolver: %w", err)
	}

	assets := fetcher.New(fetcher.Config{
		HTTPClient: httpClient,
		Logger:     log,
		UserAgent:  cfg.HTTP.UserAgent,
		MaxBytes:   int64(cfg.HTTP.MaxBodyMB) * 1024 * 1024,
	})

	// 7. Pipeline & supervisor
	shutdown := &usecase.Flag{}

	pipeline := &usecase.Pipeline{
		Publisher:       client,
		Resolver:        posts,
		Fetcher:         assets,
		Logger:          log,
		GIFHost:         cfg.Resolver.GIFHost,
		StatusCommand:   cfg.Bot.StatusCommand,
		StatusReply:     cfg.Bot.StatusReply,
		ShutdownCommand: cfg.Bot.ShutdownCommand,
		TypingInterval:  cfg.Bot.TypingInterval,
		TypingGrace:     cfg.Bot.TypingGrace,
		Shutdown:        shutdown,
	}

	var autojoin *usecase.AutojoinRetrier
	if cfg.Matrix.Autojoin {
		autojoin = &usecase.AutojoinRetrier{
			Publisher: client,
			Logger:    log,
			Rooms:     cfg.Matrix.AutojoinRooms,
		}
	}

	supervisor := &usecase.Supervisor{
		Runner:       client,
		Pipeline:     pipeline,
		Autojoin:     autojoin,
		Logger:       log,
		RestartDelay: cfg.Bot.RestartDelay,
		Shutdown:     shutdown,
	}

	// 8. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdown.Raise()
	}()

	log.Info("fxbot starting",
		"database", cfg.Matrix.Database,
		"api_host", cfg.Resolver.APIHost,
		"autojoin", cfg.Matrix.Autojoin)

	return supervisor.Run(ctx)
}

func runLogin() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	homeserver := flagValue("homeserver")
	if homeserver == "" {
		homeserver = cfg.Matrix.Homeserver
	}
	if homeserver == "" {
		return fmt.Errorf("--homeserver or matrix.homeserver is required")
	}

	creds := matrix.LoginCredentials{
		Username: flagValue("user"),
		Token:    flagValue("token"),
	}
	if creds.Username != "" {
		creds.Password = os.Getenv("FXBOT_MATRIX_PASSWORD")
		if creds.Password == "" {
			fmt.Fprintf(os.Stderr, "Password for %s: ", creds.Username)
			line, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			creds.Password = string(line)
		}
	}

	httpClient, err := newHTTPClient(cfg.HTTP, cfg.Matrix.Proxy)
	if err != nil {
		return fmt.Errorf("http client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	state, err := matrix.Login(ctx, httpClient, homeserver, creds)
	if err != nil {
		return err
	}

	sessions, err := store.NewSQLiteSessionStore(cfg.Matrix.Database)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer sessions.Close()

	if err := sessions.Save(ctx, state); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	fmt.Printf("Logged in as %s (device %s); session stored in %s\n",
		state.UserID, state.DeviceID, cfg.Matrix.Database)
	return nil
}

// runEncrypt reads a secret from stdin and prints the "enc:" form for
// embedding in the config file.
func runEncrypt() error {
	passphrase := os.Getenv("FXBOT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("FXBOT_CONFIG_KEY must be set")
	}

	fmt.Fprint(os.Stderr, "Secret: ")
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read secret: %w", err)
	}

	encrypted, err := config.EncryptValue(string(line), passphrase)
	if err != nil {
		return err
	}
	fmt.Printf("enc:%s\n", encrypted)
	return nil
}
