package main

import (
	"context"
	"flag"
	"log"
	"time"

	"school_portal/backend/internal/audit"
	"school_portal/backend/internal/grade"
	"school_portal/backend/internal/notification"
	"school_portal/backend/internal/request"
	"school_portal/backend/internal/seed"
	"school_portal/backend/internal/settings"
	"school_portal/backend/internal/shared"
	"school_portal/backend/internal/storage/mongodb"
)

func main() {
	reset := flag.Bool("reset", false, "drop the database before seeding")
	withSample := flag.Bool("sample", true, "write sample grades and document requests")
	flag.Parse()

	log.Println("Starting Database Seeder...")

	if err := shared.LoadEnv(".env"); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := shared.LoadServiceConfig("seeder")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := shared.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	client, db, err := shared.ConnectMongoDB(&cfg.MongoDB, logger)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() { _ = shared.DisconnectMongoDB(context.Background(), client) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Drop all collections to ensure a clean start
	if *reset {
		if err := db.Drop(ctx); err != nil {
			log.Fatalf("Failed to drop database: %v", err)
		}
		log.Println("Database cleared successfully.")
	}

	store := mongodb.NewStore(client, db)
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	// --- 1. Seed Users ---
	n, err := seed.Users(ctx, store, cfg.Security.BCryptCost, logger)
	if err != nil {
		log.Fatalf("Failed to seed users: %v", err)
	}
	log.Printf("Seeded %d users (password %q)", n, seed.CommonPassword)

	// --- 2. Seed System Settings ---
	recorder := audit.NewRecorder(store, logger)
	settingsSvc := settings.NewService(store, recorder, logger)
	admin := shared.Identity{ID: seed.AdminID, Role: shared.RoleAdmin, Name: "Seeder"}
	schoolYear := settings.CurrentSchoolYear(time.Now())
	if err := settingsSvc.SetMany(ctx, admin, map[string]interface{}{
		settings.KeySchoolYear:       schoolYear,
		settings.KeyCurrentQuarter:   1,
		settings.KeyDocumentBaseFee:  50,
		settings.KeyUrgentRequestFee: 100,
	}); err != nil {
		log.Fatalf("Failed to seed settings: %v", err)
	}
	log.Println("Seeded system settings.")

	// --- 3. Seed Grades & Requests ---
	if *withSample {
		notifier := notification.NewService(store, nil, nil, logger, 0)
		w := seed.Workload{
			Grades: grade.NewService(grade.Deps{
				Repo: store, Notifier: notifier, Audit: recorder, Settings: settingsSvc, Log: logger,
			}),
			Requests: request.NewService(request.Deps{
				Repo: store, Notifier: notifier, Audit: recorder, Settings: settingsSvc, Log: logger,
			}),
		}
		if err := seed.Sample(ctx, w, schoolYear); err != nil {
			log.Fatalf("Failed to seed sample data: %v", err)
		}
		log.Println("Seeded sample grades and document requests.")
	}

	log.Println("All data seeding completed successfully.")
}
