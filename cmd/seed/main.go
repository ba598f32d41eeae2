package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/catalog"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

var serviceMenu = []struct {
	name     string
	minutes  int
	priceUSD float64
}{
	{"General consultation", 30, 80},
	{"Follow-up visit", 15, 40},
	{"Dermatology screening", 45, 120},
	{"Physiotherapy session", 60, 95},
	{"Vaccination", 15, 30},
	{"Extended assessment", 90, 210},
}

func main() {
	tenants := flag.Int("tenants", 3, "number of clinics to create")
	doctors := flag.Int("doctors", 8, "doctors per clinic")
	members := flag.Int("members", 4, "bookable staff members per clinic")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	blocks := availability.NewPgRepository(pool)

	for i := 0; i < *tenants; i++ {
		tenantID, err := seedTenant(ctx, pool, faker, i == 0)
		if err != nil {
			log.Fatalf("seed tenant: %v", err)
		}
		if err := seedServices(ctx, pool, tenantID); err != nil {
			log.Fatalf("seed services: %v", err)
		}
		if err := seedProviders(ctx, pool, blocks, faker, tenantID, availability.KindDoctor, *doctors); err != nil {
			log.Fatalf("seed doctors: %v", err)
		}
		if err := seedProviders(ctx, pool, blocks, faker, tenantID, availability.KindMember, *members); err != nil {
			log.Fatalf("seed members: %v", err)
		}
		log.Printf("tenant %s seeded", tenantID)
	}

	log.Println("seed complete")
}

// seedTenant creates a clinic. The first one gets same-day client booking.
func seedTenant(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, advanced bool) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := pool.Exec(ctx, `
		INSERT INTO tenants (id, name, created_at)
		VALUES ($1, $2, now())
	`, id, faker.Company()+" Clinic"); err != nil {
		return uuid.Nil, err
	}

	if advanced {
		if _, err := pool.Exec(ctx, `
			INSERT INTO tenant_features (tenant_id, feature, enabled)
			VALUES ($1, $2, true)
		`, id, catalog.FeatureAdvancedScheduling); err != nil {
			return uuid.Nil, err
		}
	}
	return id, nil
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, s := range serviceMenu {
		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, tenant_id, name, duration_minutes, price_cents, active)
			VALUES ($1, $2, $3, $4, $5, true)
		`, uuid.New(), tenantID, s.name, s.minutes, int64(s.priceUSD*100))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// seedProviders inserts providers and gives each a weekday schedule through
// the availability repository, so seeded data passes the same validation as
// API writes.
func seedProviders(ctx context.Context, pool *pgxpool.Pool, repo *availability.PgRepository, faker *gofakeit.Faker, tenantID uuid.UUID, kind availability.ProviderKind, count int) error {
	log.Printf("seeding %d %s providers", count, kind)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := faker.Name()
		if kind == availability.KindDoctor {
			name = "Dr. " + faker.LastName()
		}

		// Roughly one in ten providers is listed but not taking bookings.
		bookable := faker.Number(1, 10) > 1

		if _, err := pool.Exec(ctx, `
			INSERT INTO providers (id, tenant_id, kind, name, allow_bookings, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, id, tenantID, kind, name, bookable); err != nil {
			return err
		}

		if err := repo.ReplaceBlocks(ctx, tenantID, id, weeklySchedule(faker)); err != nil {
			return err
		}
	}
	return nil
}

// weeklySchedule returns a morning and an afternoon block on working days,
// with the lunch break and start hour varied per provider.
func weeklySchedule(faker *gofakeit.Faker) []availability.Block {
	var blocks []availability.Block
	startHour := faker.Number(7, 9)
	lunch := faker.Number(12, 13)

	for day := 1; day <= 5; day++ {
		blocks = append(blocks,
			availability.Block{DayOfWeek: day, StartMinute: startHour * 60, EndMinute: lunch * 60, IsActive: true},
			availability.Block{DayOfWeek: day, StartMinute: (lunch + 1) * 60, EndMinute: 17 * 60, IsActive: true},
		)
	}
	if faker.Bool() {
		blocks = append(blocks, availability.Block{DayOfWeek: 6, StartMinute: 9 * 60, EndMinute: 12 * 60, IsActive: faker.Bool()})
	}
	return blocks
}
