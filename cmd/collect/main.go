// Command collect fetches raw values for one indicator from a JSON open-data
// endpoint and upserts them as explicit-year facts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"diag360/api/internal/collect"
	"diag360/api/internal/config"
	"diag360/api/internal/store"
)

func main() {
	cfg := config.Load()
	indicator := flag.String("indicator", "", "canonical indicator id (i###)")
	url := flag.String("url", "", "JSON endpoint returning rows under \"results\"")
	year := flag.Int("year", time.Now().Year(), "year the values apply to")
	unit := flag.String("unit", "", "default unit when the endpoint carries none")
	source := flag.String("source", "", "source label stored with each fact")
	dryRun := flag.Bool("dry-run", false, "fetch and print rows without writing")
	flag.Parse()

	if *indicator == "" || *url == "" {
		log.Fatal("-indicator and -url are required")
	}

	ctx := context.Background()
	producer := &collect.JSONProducer{
		Indicator: *indicator,
		URL:       *url,
		Year:      *year,
		Unit:      *unit,
		Source:    *source,
		Client:    &http.Client{Timeout: time.Duration(cfg.HTTPTimeout) * time.Second},
	}

	if *dryRun {
		rows, err := producer.Fetch(ctx)
		if err != nil {
			log.Fatalf("fetch failed: %v", err)
		}
		for _, row := range rows {
			value := "null"
			if row.Value != nil {
				value = fmt.Sprintf("%g", *row.Value)
			}
			fmt.Printf("%s\t%s\t%d\t%s\t%s\n", row.EPCIID, row.IndicatorID, row.Year, value, row.Unit)
		}
		return
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	runner := collect.NewRunner(store.NewPostgresStore(db))
	if err := runner.Run(ctx, producer); err != nil {
		log.Fatalf("collect failed: %v", err)
	}
}
