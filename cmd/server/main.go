package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/filestore"
	"github.com/Tyrowin/relaychat/internal/logging"
	"github.com/Tyrowin/relaychat/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
	metricsInterval = 5 * time.Minute
	memoryDB        = ":memory:"
)

func main() {
	defaults := server.NewConfig()

	configFile := flag.String("config", "", "YAML configuration file")
	port := flag.String("port", defaults.Port, "HTTP listen address")
	origins := flag.String("origins", strings.Join(defaults.AllowedOrigins, ","), "Comma separated allowed origins (* for any)")
	uploadDir := flag.String("uploads", defaults.UploadDir, "Directory receiving uploaded files")
	dbPath := flag.String("db", defaults.DBPath, "SQLite credential database (empty disables accounts, "+memoryDB+" keeps them in memory)")
	requireAuth := flag.Bool("require-auth", defaults.RequireAuth, "Only logged in users may claim a nickname")
	overflow := flag.String("overflow", defaults.OverflowPolicy, "Slow client policy: disconnect or drop-oldest")
	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cfg := server.NewConfig()
	if *configFile != "" {
		if err := server.LoadConfigFile(*configFile, cfg); err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
	}
	server.ApplyEnv(cfg)

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "origins":
			cfg.AllowedOrigins = strings.Split(*origins, ",")
		case "uploads":
			cfg.UploadDir = *uploadDir
		case "db":
			cfg.DBPath = *dbPath
		case "require-auth":
			cfg.RequireAuth = *requireAuth
		case "overflow":
			cfg.OverflowPolicy = *overflow
		}
	})

	if err := run(cfg); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *server.Config) error {
	server.SetConfig(cfg)
	active := server.CurrentConfig()

	gate, err := openGate(active)
	if err != nil {
		return err
	}
	if gate != nil {
		defer func() { _ = gate.Close() }()
	}
	if active.RequireAuth && gate == nil {
		return errors.New("require-auth needs a credential database")
	}

	files, err := filestore.Open(active.UploadDir)
	if err != nil {
		return fmt.Errorf("open upload dir: %w", err)
	}
	defer func() { _ = files.Close() }()

	hub := server.NewHub(server.Dependencies{Gate: gate, Files: files})
	server.StartHub(hub)
	hub.Metrics().StartPeriodicLog(metricsInterval, hub.Done())

	httpServer := server.CreateServer(active.Port, server.SetupRoutes(hub))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	slog.Info("relaychat started",
		"addr", active.Port,
		"uploads", files.Dir(),
		"accounts", gate != nil,
		"require_auth", active.RequireAuth,
		"overflow", active.OverflowPolicy,
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		slog.Info("received signal", "signal", s.String())
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = hub.Shutdown(shutdownTimeout)
			return err
		}
	}

	httpErr := server.ShutdownServer(httpServer, shutdownTimeout)
	hubErr := hub.Shutdown(shutdownTimeout)
	hub.Metrics().LogSummary()
	return errors.Join(httpErr, hubErr)
}

func openGate(cfg server.Config) (*auth.Gate, error) {
	var store auth.Store
	switch cfg.DBPath {
	case "":
		return nil, nil
	case memoryDB:
		store = auth.NewMemoryStore()
	default:
		sqlStore, err := auth.OpenSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	}

	gate, err := auth.NewGate(store, cfg.BcryptCost)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return gate, nil
}
