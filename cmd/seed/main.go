package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appointly/booking-engine/internal/booking"
	"github.com/appointly/booking-engine/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	log.Println("schema applied")

	gofakeit.Seed(time.Now().UnixNano())

	professionals, err := seedUsers(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed professionals: %v", err)
	}
	if _, err := seedUsers(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed requesters: %v", err)
	}
	if err := seedAppointmentTypes(context.Background(), pool); err != nil {
		log.Fatalf("seed appointment types: %v", err)
	}
	if err := seedAvailability(context.Background(), pool, professionals); err != nil {
		log.Fatalf("seed availability: %v", err)
	}

	log.Println("seed complete")
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d users", count)

	const batchSize = 250
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO users (id, name, email, created_at)
				VALUES ($1, $2, $3, now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
	}

	log.Println("users seeded")
	return ids, nil
}

func seedAppointmentTypes(ctx context.Context, pool *pgxpool.Pool) error {
	types := []struct {
		name     string
		duration int
		virtual  bool
	}{
		{"Initial Consultation", 60, false},
		{"Follow-up", 30, false},
		{"Progress Review", 45, false},
		{"Video Check-in", 20, true},
		{"Extended Session", 90, false},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, t := range types {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointment_types (id, name, duration_minutes, is_virtual, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, true, now(), now())
			ON CONFLICT (name) DO NOTHING
		`, uuid.New(), t.name, t.duration, t.virtual)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("appointment types seeded")
	return nil
}

// seedAvailability gives each professional a morning window per weekday for
// the next two weeks and carves the windows into 30-minute slots.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, professionals []uuid.UUID) error {
	log.Printf("seeding availability for %d professionals", len(professionals))

	repo := booking.NewPgRepository(pool)

	for _, professionalID := range professionals {
		for day := 1; day <= 14; day++ {
			date := time.Now().AddDate(0, 0, day)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			start := time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, time.UTC)
			end := start.Add(3 * time.Hour)

			av := &booking.Availability{
				ID:              uuid.New(),
				ProfessionalID:  professionalID,
				StartTime:       start,
				EndTime:         end,
				DurationMinutes: 180,
				Type:            "regular",
			}
			if err := repo.CreateAvailability(ctx, av); err != nil {
				return err
			}

			slots, err := booking.PartitionWindow(av, 30*time.Minute, 1)
			if err != nil {
				return err
			}
			if err := repo.InsertSlots(ctx, slots); err != nil {
				return err
			}
		}
	}

	log.Println("availability seeded")
	return nil
}
