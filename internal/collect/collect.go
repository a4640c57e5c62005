// Package collect persists raw indicator values supplied by per-indicator
// producers, which fetch one open-data source each and emit rows under the
// common fact contract.
package collect

import (
	"context"
	"fmt"
	"log"

	"diag360/api/internal/store"
)

// RawValue is one fact from a producer. Year is explicit here; the sentinel
// year 0 is reserved for the workbook matrices.
type RawValue struct {
	EPCIID      string
	IndicatorID string
	Year        int
	Value       *float64
	Unit        string
	Source      string
	Meta        map[string]any
}

// Producer fetches rows for one indicator from its upstream source.
type Producer interface {
	IndicatorID() string
	Fetch(ctx context.Context) ([]RawValue, error)
}

// DB is what the runner needs from the store layer.
type DB interface {
	IndicatorExists(ctx context.Context, indicatorID string) (bool, error)
	BeginImport(ctx context.Context) (*store.Importer, error)
}

type Runner struct {
	db DB
}

func NewRunner(db DB) *Runner {
	return &Runner{db: db}
}

// Run fetches the producer's rows and upserts them in one transaction. The
// indicator must already exist from the reference import; rows with a nil
// value are dropped.
func (r *Runner) Run(ctx context.Context, producer Producer) error {
	indicatorID := producer.IndicatorID()
	exists, err := r.db.IndicatorExists(ctx, indicatorID)
	if err != nil {
		return fmt.Errorf("check indicator %s: %w", indicatorID, err)
	}
	if !exists {
		return fmt.Errorf("indicator %s is not in the reference tables, run the workbook import first", indicatorID)
	}

	rows, err := producer.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", indicatorID, err)
	}

	importer, err := r.db.BeginImport(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	written, err := persist(ctx, importer, rows)
	if err != nil {
		if rbErr := importer.Rollback(); rbErr != nil {
			log.Printf("rollback %s: %v", indicatorID, rbErr)
		}
		return err
	}
	if err := importer.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", indicatorID, err)
	}
	log.Printf("indicator %s: %d values written, %d rows dropped", indicatorID, written, len(rows)-written)
	return nil
}

type upserter interface {
	UpsertIndicatorValue(ctx context.Context, value store.IndicatorValue) error
}

func persist(ctx context.Context, up upserter, rows []RawValue) (int, error) {
	written := 0
	for _, row := range rows {
		row := row // per-iteration copy: value.Unit/Source point into row
		if row.Value == nil || row.EPCIID == "" {
			continue
		}
		value := store.IndicatorValue{
			EPCIID:      row.EPCIID,
			IndicatorID: row.IndicatorID,
			Year:        row.Year,
			Value:       row.Value,
			Meta:        row.Meta,
		}
		if row.Unit != "" {
			value.Unit = &row.Unit
		}
		if row.Source != "" {
			value.Source = &row.Source
		}
		if err := up.UpsertIndicatorValue(ctx, value); err != nil {
			return written, fmt.Errorf("upsert %s/%s/%d: %w", row.EPCIID, row.IndicatorID, row.Year, err)
		}
		written++
	}
	return written, nil
}
