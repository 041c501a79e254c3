package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"emberline/internal/retention"
	"emberline/pkg/api"
	"emberline/pkg/api/handlers"
	"emberline/pkg/auth"
	"emberline/pkg/banner"
	"emberline/pkg/config"
	"emberline/pkg/logger"
	"emberline/pkg/realtime"
	"emberline/pkg/reply"
	"emberline/pkg/store"
)

// deleteNotifier fans expiry deletions out to connected chat members.
type deleteNotifier struct {
	hub *realtime.Hub
}

func (n *deleteNotifier) MessageDeleted(chatID, messageID string) {
	n.hub.Broadcast(chatID, "message-deleted", map[string]string{
		"chatId":    chatID,
		"messageId": messageID,
	}, nil)
}

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	// Config file path: flag wins over env.
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Flags win over config/env when provided by the user.
	var addr string
	var dbPath string
	if !setFlags["addr"] {
		addr = cfg.Addr()
	} else {
		addr = addrVal
	}
	if !setFlags["db"] {
		if p := cfg.Server.DBPath; p != "" {
			dbPath = p
		} else {
			dbPath = dbVal
		}
	} else {
		dbPath = dbVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	if len(cfg.Security.Token.Secrets) == 0 {
		log.Fatalf("no token secret configured: set security.token.secrets or EMBERLINE_TOKEN_SECRET")
	}

	if err := store.Open(dbPath); err != nil {
		log.Fatalf("failed to open pebble at %s: %v", dbPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub := realtime.NewHub()
	gw := realtime.NewGateway(hub, cfg.Security.Token.Secrets, cfg.Security.CORS.AllowedOrigins)

	sched := retention.New(&deleteNotifier{hub: hub},
		retention.WithSweepCron(cfg.Retention.SweepCron))
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start retention scheduler: %v", err)
	}

	a := &handlers.API{
		Hub:        hub,
		Gateway:    gw,
		Sched:      sched,
		Linker:     reply.NewLinker(),
		Secrets:    cfg.Security.Token.Secrets,
		TokenTTL:   cfg.TokenTTL(),
		UploadsDir: cfg.Server.UploadsDir,
	}

	// ensure background work stops before the process exits
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_shutdown", "signal", s.String())
		cancel()
		if err := store.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
		os.Exit(0)
	}()

	// Config sources summary for the startup banner.
	srcs := []string{}
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if envUsed {
		srcs = append(srcs, "env")
	}
	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err == nil {
			srcs = append(srcs, "config")
		}
	}
	verStr := version
	if commit != "none" {
		verStr = verStr + " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr = verStr + " @ " + buildDate
	}
	banner.Print(addr, dbPath, strings.Join(srcs, ", "), verStr)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler(a))
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/metrics", promhttp.Handler())

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		Secrets:        cfg.Security.Token.Secrets,
	}
	if cfg.Security.RateLimit.RPS > 0 {
		secCfg.RPS = cfg.Security.RateLimit.RPS
	}
	if cfg.Security.RateLimit.Burst > 0 {
		secCfg.Burst = cfg.Security.RateLimit.Burst
	}
	wrapped := auth.Middleware(secCfg)(mux)

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	var errServe error
	if cert != "" && key != "" {
		errServe = http.ListenAndServeTLS(addr, cert, key, wrapped)
	} else {
		errServe = http.ListenAndServe(addr, wrapped)
	}
	if errServe != nil {
		log.Fatal(errServe)
	}
}
