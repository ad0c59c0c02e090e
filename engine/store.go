package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/store"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/store/postgres"
	redisstore "github.com/Juanbuhler/zmlp-sub000/store/redis"
	"github.com/Juanbuhler/zmlp-sub000/store/sqlite"
)

// OpenStore opens and migrates the backend selected by cfg. When
// cfg.RedisAddr is set, cluster lock rows live in redis instead. The
// returned func closes everything OpenStore opened.
func OpenStore(ctx context.Context, cfg archivist.StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var s store.Store
	switch cfg.Driver {
	case "", "memory":
		s = memory.New()
	case "postgres":
		pg, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s = pg
	case "sqlite":
		sq, err := sqlite.Open(ctx, cfg.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		s = sq
	default:
		return nil, nil, fmt.Errorf("archivist: unknown store driver %q", cfg.Driver)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}

	closers := []func() error{s.Close}
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		locks := redisstore.New(client, redisstore.WithLogger(logger))
		if err := locks.Ping(ctx); err != nil {
			_ = client.Close()
			_ = s.Close()
			return nil, nil, err
		}
		s = store.WithLocks(s, locks)
		closers = append([]func() error{client.Close}, closers...)
		logger.Info("cluster locks served by redis", slog.String("addr", cfg.RedisAddr))
	}

	logger.Info("store opened", slog.String("driver", cfg.Driver))
	return s, func() error {
		var errs []error
		for _, c := range closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}
