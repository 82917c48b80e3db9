package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log/level"

	"github.com/02loveslollipop/waterland-gwin-import/internal/logging"
	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/config"
	"github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/db"
	httpserver "github.com/02loveslollipop/waterland-gwin-import/services/ingress-sink/http"
)

func main() {
	logger := logging.New(os.Stderr, "ingress-sink", "info")

	cfg, err := config.Load()
	if err != nil {
		level.Error(logger).Log("msg", "config error", "err", err)
		os.Exit(1)
	}
	logger = logging.New(os.Stderr, "ingress-sink", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store httpserver.Store
	if cfg.DatabaseURL != "" {
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			level.Error(logger).Log("msg", "db connection error", "err", err)
			os.Exit(1)
		}
		defer pg.Close()

		if err := pg.EnsureSchema(ctx); err != nil {
			level.Error(logger).Log("msg", "schema error", "err", err)
			os.Exit(1)
		}
		store = pg
		level.Info(logger).Log("msg", "storing readings in postgres")
	} else {
		store = db.NewMemoryStore(cfg.MemoryCapacity)
		level.Info(logger).Log("msg", "storing readings in memory", "capacity", cfg.MemoryCapacity)
	}

	srv := httpserver.New(cfg, store, logger)
	level.Info(logger).Log("msg", "ingress sink listening", "addr", cfg.ListenAddr(), "path", cfg.Path)

	if err := srv.Run(ctx); err != nil {
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	}
}
