package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erazemk/grocery/internal/api"
	"github.com/erazemk/grocery/internal/auth"
	"github.com/erazemk/grocery/internal/blob"
	"github.com/erazemk/grocery/internal/config"
	"github.com/erazemk/grocery/internal/db"
	"github.com/erazemk/grocery/internal/gateway"
	"github.com/erazemk/grocery/internal/inventory"
	"github.com/erazemk/grocery/internal/notify"
	"github.com/erazemk/grocery/internal/recognize"
	"github.com/erazemk/grocery/internal/store"
	"github.com/erazemk/grocery/internal/store/memory"
	"github.com/erazemk/grocery/internal/store/postgres"
)

// tokenPurgeInterval is how often expired revocations are dropped.
const tokenPurgeInterval = time.Hour

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv, os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		if closeLog != nil {
			closeLog()
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	_, statErr := os.Stat(cfg.DBPath)
	fresh := os.IsNotExist(statErr)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}

	// A new database, or one whose account was removed, gets an owner.
	password, err := ensureOwner(ctx, database, cfg.User)
	if err != nil {
		if fresh {
			database.Close()
			os.Remove(cfg.DBPath)
		}
		return fmt.Errorf("creating owner account: %w", err)
	}
	if password != "" {
		printInitResult(cfg.DBPath, fresh, cfg.User, password)
		fmt.Println()
	}
	slog.Info("database ready", "path", cfg.DBPath)

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	coll, closeColl, err := openCollection(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer closeColl()

	blobs, err := blob.Open(ctx, cfg.BlobConfig())
	if err != nil {
		return fmt.Errorf("opening image storage: %w", err)
	}
	gw := gateway.New(blobs, cfg.ImagesURL())
	slog.Info("image storage ready", "driver", blobs.Driver(), "url", cfg.ImagesURL())

	recognizer, err := openRecognizer(ctx, cfg)
	if err != nil {
		return err
	}

	inv := inventory.New(coll, inventory.WithImageJanitor(gw))
	if err := inv.Start(ctx); err != nil {
		return fmt.Errorf("starting inventory: %w", err)
	}
	defer inv.Close()

	watch := api.NewWatchHandler(inv)
	router := api.NewRouter(api.Deps{
		DB:         database,
		JWTSecret:  jwtSecret,
		Inventory:  inv,
		Images:     gw,
		Recognizer: recognizer,
		Watch:      watch,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go purgeTokens(purgeCtx, database)

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		watch.CloseAll()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "backend", cfg.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing inventory and database")
	return nil
}

// openCollection returns the configured items backend and its cleanup.
func openCollection(ctx context.Context, cfg *config.Config, database *sql.DB) (inventory.Collection, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		coll, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		slog.Info("items backend ready", "backend", cfg.Backend)
		return coll, coll.Close, nil

	case config.BackendMemory:
		slog.Warn("items are kept in memory and lost on exit")
		return memory.New(), func() {}, nil

	default:
		if cfg.RedisURL == "" {
			return store.NewCollection(database, notify.NewLocal()), func() {}, nil
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("change signals via redis", "addr", opts.Addr)
		return store.NewCollection(database, notify.NewRedis(client)), func() { client.Close() }, nil
	}
}

// openRecognizer returns the Cloud Vision recognizer when credentials are
// configured, and a no-op one otherwise.
func openRecognizer(ctx context.Context, cfg *config.Config) (recognize.Recognizer, error) {
	switch {
	case cfg.VisionCreds != "":
		v, err := recognize.NewVisionFromCredentialsFile(ctx, cfg.VisionCreds)
		if err != nil {
			return nil, fmt.Errorf("setting up text recognition: %w", err)
		}
		slog.Info("text recognition enabled", "credentials", cfg.VisionCreds)
		return v, nil
	case cfg.VisionAPIKey != "":
		v, err := recognize.NewVisionFromAPIKey(ctx, cfg.VisionAPIKey)
		if err != nil {
			return nil, fmt.Errorf("setting up text recognition: %w", err)
		}
		slog.Info("text recognition enabled", "credentials", "api key")
		return v, nil
	default:
		slog.Info("text recognition disabled")
		return recognize.Nop{}, nil
	}
}

func purgeTokens(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpiredTokens(ctx, database, now)
			if err != nil {
				slog.Error("failed to purge revoked tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged revoked tokens", "count", n)
			}
		}
	}
}

// ensureOwner creates the owner account with a generated password when
// the database has no accounts. It returns "" when one already exists.
func ensureOwner(ctx context.Context, database *sql.DB, username string) (string, error) {
	n, err := store.CountUsers(ctx, database)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}

	password, err := auth.GeneratePassword(16)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	if _, err := store.CreateUser(ctx, database, username, hash); err != nil {
		return "", err
	}
	return password, nil
}

// printInitResult prints the generated owner credentials to stdout.
func printInitResult(dbPath string, created bool, username, password string) {
	if created {
		fmt.Printf("Database created: %s\n", dbPath)
		fmt.Println("Schema initialized.")
		fmt.Println()
	}
	fmt.Println("Owner account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("It can be changed after logging in.")
}
