package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"absenbot/internal/bot"
	"absenbot/internal/checkin"
	"absenbot/internal/config"
	"absenbot/internal/db"
	"absenbot/internal/geofence"
	"absenbot/internal/kv"
	"absenbot/internal/ledger"
	"absenbot/internal/metrics"
	"absenbot/internal/query"
	"absenbot/internal/web"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("absenbot stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("application shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	loc := cfg.Location()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := store.Load(ctx); err != nil {
		if !errors.Is(err, ledger.ErrCorruptState) {
			return fmt.Errorf("error loading ledger: %w", err)
		}
		m.IncCorruptLoad()
		logger.Warn("ledger state was corrupt, starting empty", "backend", cfg.Ledger.Backend, "error", err)
	}

	policy, err := checkin.ParseDedupPolicy(cfg.Ledger.DedupPolicy)
	if err != nil {
		return err
	}
	fence := geofence.Fence{
		Center:       geofence.Coordinate{Latitude: cfg.Geofence.Latitude, Longitude: cfg.Geofence.Longitude},
		RadiusMeters: cfg.Geofence.RadiusMeters,
	}
	queries := query.New(store, loc)

	var (
		discordBot *bot.Bot
		session    *discordgo.Session
		notifier   checkin.Notifier = checkin.NopNotifier{}
	)
	if cfg.Discord.Enabled {
		session, err = bot.NewSession(cfg.Discord)
		if err != nil {
			return err
		}
		notifier = bot.NewNotifier(session, cfg.Discord.AdminChannelID, loc)
	}

	checkins := checkin.New(store, notifier, fence,
		checkin.WithLogger(logger.With("component", "checkin")),
		checkin.WithMetrics(m),
		checkin.WithDedupPolicy(policy),
		checkin.WithLocation(loc),
	)
	if session != nil {
		discordBot = bot.New(session, cfg.Discord, checkins, queries, logger.With("component", "bot"))
	}

	baseURL := "http://" + web.LANAddress() + portSuffix(cfg.Web.Addr)
	handler := web.New(checkins, queries, logger.With("component", "web"), web.WithBaseURL(baseURL))
	srv := web.NewServer(cfg.Web.Addr, web.NewRouter(handler, reg))

	logger.Info("starting absenbot",
		"addr", cfg.Web.Addr,
		"lan", baseURL,
		"backend", cfg.Ledger.Backend,
		"dedup_policy", policy.String(),
		"timezone", loc.String(),
		"discord", cfg.Discord.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if discordBot != nil {
		g.Go(func() error {
			if err := discordBot.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("discord bot: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// openStore builds the configured ledger backend and its cleanup func.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemory(), func() {}, nil
	case "postgres":
		database, err := db.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return database, database.Close, nil
	case "redis":
		store, err := kv.Dial(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("error closing redis client", "error", err)
			}
		}, nil
	default:
		return ledger.NewFile(cfg.Ledger.Path, ledger.WithFileLogger(logger.With("component", "ledger"))), func() {}, nil
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func portSuffix(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ""
}
