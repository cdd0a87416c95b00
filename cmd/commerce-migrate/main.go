package main

import (
	"context"
	"database/sql"
	"flag"
	"log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"pass-commerce/internal/config"
	"pass-commerce/internal/database/migrations"
	"pass-commerce/internal/models"
)

func main() {
	var (
		dir       = flag.String("dir", "./migrations", "directory containing SQL migration files")
		down      = flag.Bool("down", false, "roll back all migrations")
		bootstrap = flag.Bool("bootstrap", false, "create tables from models instead of SQL migrations (dev only)")
		seed      = flag.Bool("seed", false, "insert sample data after migrating (dev only)")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()
	ctx := context.Background()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	if *bootstrap {
		log.Println("Bootstrapping schema from models...")
		if err := createTables(ctx, db); err != nil {
			log.Fatalf("Bootstrap failed: %v", err)
		}
	} else {
		runner := migrations.NewRunner(db, *dir)
		defer runner.Close()

		if *down {
			log.Println("Rolling back migrations...")
			if err := runner.Down(); err != nil {
				log.Fatalf("Rollback failed: %v", err)
			}
		} else {
			log.Println("Running migrations...")
			if err := runner.Up(); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			if version, dirty, err := runner.Version(); err == nil {
				log.Printf("Current schema version: %d (dirty: %v)", version, dirty)
			}
		}
	}

	if *seed {
		log.Println("Seeding sample data...")
		if err := seedData(ctx, db); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
	}

	log.Println("Done.")
}

func createTables(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Merchant)(nil),
		(*models.PickupLocation)(nil),
		(*models.ShopItem)(nil),
		(*models.Event)(nil),
		(*models.TicketType)(nil),
		(*models.PromoCode)(nil),
		(*models.PromoCodeUsage)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.Ticket)(nil),
		(*models.Payment)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func seedData(ctx context.Context, db *bun.DB) error {
	users := []models.User{
		{ID: uuid.NewString(), Name: "Abel Tesfaye", Phone: "+251911000001", Email: "abel@example.com"},
		{ID: uuid.NewString(), Name: "Sara Bekele", Phone: "+251911000002", Email: "sara@example.com"},
	}
	if _, err := db.NewInsert().Model(&users).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return err
	}
	return nil
}
