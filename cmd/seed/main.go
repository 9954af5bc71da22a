package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/fakedata"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

const batchSize = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	if cfg.StorageDriver != config.StoragePostgres {
		logger.Fatal().Msg("seed requires postgres storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	counts := fakedata.UserCounts{
		Admins:        envInt("SEED_ADMINS", 2),
		Practitioners: envInt("SEED_PRACTITIONERS", 20),
		Patients:      envInt("SEED_PATIENTS", 2000),
	}
	users := fakedata.Users(gofakeit.New(uint64(time.Now().UnixNano())), counts)

	logger.Info().
		Int("admins", counts.Admins).
		Int("practitioners", counts.Practitioners).
		Int("patients", counts.Patients).
		Msg("seeding users")

	if err := seedUsers(ctx, pool, users, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed users")
	}

	logger.Info().Msg("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, users []notification.UserRef, logger zerolog.Logger) error {
	for offset := 0; offset < len(users); offset += batchSize {
		end := min(offset+batchSize, len(users))

		batch := &pgx.Batch{}
		for _, u := range users[offset:end] {
			batch.Queue(`
				INSERT INTO users (id, role, name, email, created_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (id) DO NOTHING
			`, u.ID, u.Role, u.Name, u.Email)
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return tx.SendBatch(ctx, batch).Close()
		})
		if err != nil {
			return err
		}

		logger.Info().Int("done", end).Int("total", len(users)).Msg("users seeded")
	}
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
