// Command score recomputes indicator scores for one year from the raw value
// facts, normalizing each indicator to 0-100 across all EPCIs.
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"diag360/api/internal/config"
	"diag360/api/internal/scoring"
	"diag360/api/internal/store"
)

func main() {
	cfg := config.Load()
	year := flag.Int("year", 0, "year to score (0 scores the workbook facts)")
	indicators := flag.String("indicators", "", "comma-separated indicator ids, e.g. i001,i027")
	flag.Parse()

	ids := splitIDs(*indicators)
	if len(ids) == 0 {
		log.Fatal("-indicators is required")
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	values := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		exists, err := dataStore.IndicatorExists(ctx, id)
		if err != nil {
			log.Fatalf("check indicator %s: %v", id, err)
		}
		if !exists {
			log.Fatalf("indicator %s is not in the reference tables", id)
		}
		byEPCI, err := dataStore.RawValues(ctx, id, *year)
		if err != nil {
			log.Fatalf("load values for %s: %v", id, err)
		}
		if len(byEPCI) == 0 {
			log.Printf("indicator %s: no values for year %d, skipping", id, *year)
			continue
		}
		values[id] = byEPCI
	}

	scores := scoring.Compute(values, *year)
	if len(scores) == 0 {
		log.Print("nothing to score")
		return
	}

	importer, err := dataStore.BeginImport(ctx)
	if err != nil {
		log.Fatalf("begin import: %v", err)
	}
	for _, score := range scores {
		if err := importer.UpsertIndicatorScore(ctx, score); err != nil {
			if rbErr := importer.Rollback(); rbErr != nil {
				log.Printf("rollback: %v", rbErr)
			}
			log.Fatalf("upsert score %s/%s: %v", score.EPCIID, score.IndicatorID, err)
		}
	}
	if err := importer.Commit(); err != nil {
		log.Fatalf("commit: %v", err)
	}
	log.Printf("%d scores written for year %d", len(scores), *year)
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
