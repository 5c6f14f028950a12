package main

import (
	"context"
	"fmt"
	"log"
	"time"
	_ "time/tzdata"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Medicine",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"Otolaryngology",
}

// shifts are civil-time blocks in the clinic's timezone, as hour offsets.
var shifts = [][2]int{{8, 12}, {14, 18}}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	s := &seeder{pool: pool, faker: faker, log: logger, loc: cfg.Location()}

	units, err := s.seedUnits(ctx, 3)
	if err != nil {
		logger.Fatal("seed care units", zap.Error(err))
	}
	professionals, err := s.seedProfessionals(ctx, 40)
	if err != nil {
		logger.Fatal("seed professionals", zap.Error(err))
	}
	if err := s.seedWorkWindows(ctx, professionals, units, 14); err != nil {
		logger.Fatal("seed work windows", zap.Error(err))
	}
	if err := s.seedPatients(ctx, 5000); err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}

	logger.Info("seed complete")
}

type seeder struct {
	pool  *pgxpool.Pool
	faker *gofakeit.Faker
	log   *zap.Logger
	loc   *time.Location
}

func (s *seeder) seedUnits(ctx context.Context, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			name := fmt.Sprintf("%s Care Unit", s.faker.City())
			// created_at is staggered so the default unit is stable
			if _, err := tx.Exec(ctx, `
				INSERT INTO care_units (id, name, active, created_at)
				VALUES ($1, $2, TRUE, now() - make_interval(mins => $3))
			`, id, name, count-i); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("care units seeded", zap.Int("count", count))
	return ids, nil
}

func (s *seeder) seedProfessionals(ctx context.Context, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			// every specialty gets at least one professional
			spec := specialties[i%len(specialties)]
			if i >= len(specialties) {
				spec = specialties[s.faker.Number(0, len(specialties)-1)]
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO professionals (id, names, surnames, specialty, active, created_at, updated_at)
				VALUES ($1, $2, $3, $4, TRUE, now(), now())
			`, id, s.faker.FirstName(), s.faker.LastName(), spec); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("professionals seeded", zap.Int("count", count))
	return ids, nil
}

// seedWorkWindows declares one or two shifts per professional per weekday
// for the next days. Some windows have no unit to exercise the fallback.
func (s *seeder) seedWorkWindows(ctx context.Context, professionals, units []uuid.UUID, days int) error {
	today := time.Now().In(s.loc)
	first := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.loc)

	batch := &pgx.Batch{}
	for _, prof := range professionals {
		for d := 0; d < days; d++ {
			day := first.AddDate(0, 0, d)
			if day.Weekday() == time.Sunday {
				continue
			}
			for _, shift := range shifts {
				if s.faker.Number(0, 3) == 0 {
					continue
				}
				start := time.Date(day.Year(), day.Month(), day.Day(), shift[0], 0, 0, 0, s.loc)
				end := time.Date(day.Year(), day.Month(), day.Day(), shift[1], 0, 0, 0, s.loc)

				var unit *uuid.UUID
				if s.faker.Number(0, 9) > 0 {
					u := units[s.faker.Number(0, len(units)-1)]
					unit = &u
				}
				batch.Queue(`
					INSERT INTO work_windows (id, professional_id, unit_id, start_time, end_time, state, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, 'open', now(), now())
				`, uuid.New(), prof, unit, start, end)
			}
		}
	}

	n := batch.Len()
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	s.log.Info("work windows seeded", zap.Int("count", n))
	return nil
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			email := s.faker.Email()
			phone := s.faker.Phone()
			rows = append(rows, []any{
				uuid.New(), s.faker.FirstName(), s.faker.LastName(),
				"ID", s.faker.DigitN(8), email, phone,
			})
		}

		if _, err := s.pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "names", "surnames", "document_type", "document_id", "email", "phone"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return err
		}

		s.log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}
