package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SLRio/Railway3/internal/config"
	"github.com/SLRio/Railway3/internal/filter"
	"github.com/SLRio/Railway3/internal/httpapi"
	"github.com/SLRio/Railway3/internal/ingest"
	"github.com/SLRio/Railway3/internal/latest"
	"github.com/SLRio/Railway3/internal/layout"
	"github.com/SLRio/Railway3/internal/middleware"
	"github.com/SLRio/Railway3/internal/mqtt"
	"github.com/SLRio/Railway3/internal/observability"
	"github.com/SLRio/Railway3/internal/realtime"
	"github.com/SLRio/Railway3/internal/retention"
	"github.com/SLRio/Railway3/internal/series"
	"github.com/SLRio/Railway3/internal/store"

	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, tracer, err := observability.Setup(ctx, "telemetry-service", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}

	tbl, err := series.NewTable(cfg.Series)
	if err != nil {
		slog.Error("invalid series table", "error", err)
		os.Exit(1)
	}
	kind, err := layout.ParseKind(cfg.RecordLayout)
	if err != nil {
		slog.Error("invalid env", "key", "RECORD_LAYOUT", "error", err)
		os.Exit(1)
	}
	adapter, err := layout.New(kind, tbl)
	if err != nil {
		slog.Error("layout setup failed", "layout", kind, "error", err)
		os.Exit(1)
	}
	policy, err := ingest.ParsePolicy(cfg.UnknownTopicPolicy)
	if err != nil {
		slog.Error("invalid env", "key", "UNKNOWN_TOPIC_POLICY", "error", err)
		os.Exit(1)
	}

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("db connect failed", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db)
	if err != nil {
		slog.Error("db migrate failed", "error", err)
		os.Exit(1)
	}

	hub := realtime.NewHub()
	ing := &ingest.Ingestor{
		Repo:         repo,
		Series:       tbl,
		Policy:       policy,
		AllowRetains: cfg.IngestRetained,
		BlankTopic:   kind == layout.Untagged,
		Events:       hub,
	}

	var latestCache *latest.Cache
	if cfg.Redis.Addr != "" {
		rdb, err := latest.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		latestCache = latest.New(rdb, cfg.Redis.LatestTTL)
		ing.Latest = latestCache
	}

	mq, err := mqtt.Connect(mqtt.Options{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
	})
	if err != nil {
		slog.Error("mqtt connect failed", "error", err)
		os.Exit(1)
	}
	topics := subscriptionTopics(tbl, cfg.MQTT.ExtraTopics)
	if err := mq.Subscribe(topics, func(m mqtt.Message) {
		ing.Dispatch(ctx, m)
	}); err != nil {
		slog.Error("mqtt subscribe failed", "error", err)
		os.Exit(1)
	}
	slog.Info("telemetry ingest subscribed", "topics", topics)

	stopRetention := func() {}
	if cfg.RetentionMaxAge > 0 {
		job, err := retention.New(repo, cfg.RetentionMaxAge, cfg.RetentionSchedule)
		if err != nil {
			slog.Error("retention setup failed", "error", err)
			os.Exit(1)
		}
		job.Events = hub
		job.Start()
		stopRetention = job.Stop
		slog.Info("retention enabled", "max_age", cfg.RetentionMaxAge, "schedule", cfg.RetentionSchedule)
	}

	opts := httpapi.Options{
		Filters:     &filter.Translator{Series: tbl, Strict: cfg.FilterStrict},
		Layout:      adapter,
		Hub:         hub,
		StaticDir:   cfg.StaticDir,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Tracer:      tracer,
	}
	if latestCache != nil {
		opts.Latest = latestCache
	}
	if cfg.JWTPublicKeyPath != "" {
		pub, err := middleware.LoadRSAPublicKey(cfg.JWTPublicKeyPath)
		if err != nil {
			slog.Error("jwt public key load failed", "path", cfg.JWTPublicKeyPath, "error", err)
			os.Exit(1)
		}
		opts.Auth = middleware.RequireJWT(pub)
	} else {
		slog.Warn("JWT_PUBLIC_KEY_PATH not set; mutation routes are open")
	}
	if cfg.StaticDir != "" {
		if st, err := os.Stat(cfg.StaticDir); err != nil || !st.IsDir() {
			slog.Warn("static dir not readable", "dir", cfg.StaticDir)
		}
	}

	srv := httpapi.New(repo, opts)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("telemetry-service listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		slog.Info("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	mq.Close()
	cancel()
	ing.Wait()
	stopRetention()
	if err := repo.Close(); err != nil {
		slog.Warn("db close failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", "error", err)
	}
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == "sqlite" {
		return store.OpenSQLite(cfg.SQLitePath)
	}
	for key, v := range map[string]string{
		"POSTGRES_USER": cfg.Postgres.User,
		"POSTGRES_DB":   cfg.Postgres.DBName,
		"POSTGRES_HOST": cfg.Postgres.Host,
	} {
		if strings.TrimSpace(v) == "" {
			slog.Error("missing required env", "key", key)
			os.Exit(1)
		}
	}
	return store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.SSLMode)
}

// subscriptionTopics lists every series topic plus the extra filters, without
// duplicates.
func subscriptionTopics(tbl *series.Table, extra []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range append(tbl.Topics(), extra...) {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func setupLogging(level string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}
