// Command ingest loads the Diag360 reference workbook into the database in
// one transaction.
package main

import (
	"context"
	"flag"
	"log"

	"diag360/api/internal/config"
	"diag360/api/internal/ingest"
	"diag360/api/internal/store"
	"diag360/api/internal/workbook"
)

func main() {
	cfg := config.Load()
	workbookPath := flag.String("workbook", cfg.WorkbookPath, "path to the reference workbook (.xlsx)")
	flag.Parse()

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	wb, err := workbook.Open(*workbookPath)
	if err != nil {
		log.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	dataStore := store.NewPostgresStore(db)
	if err := ingest.Run(ctx, dataStore, wb); err != nil {
		log.Fatalf("import failed, rolled back: %v", err)
	}
	log.Printf("workbook %s imported", *workbookPath)
}
