// Package ingest loads the Diag360 reference workbook into the relational
// model: reference tabs first, then the correspondence tabs that rewrite the
// relationship caches, then the wide value and score matrices. One run is one
// transaction.
package ingest

import (
	"context"
	"fmt"
	"log"

	"diag360/api/internal/store"
	"diag360/api/internal/workbook"
)

// Source yields workbook tabs by name. *workbook.Workbook satisfies it; tests
// use an in-memory map.
type Source interface {
	Sheet(name string) (*workbook.Sheet, bool)
}

type builder func(ctx context.Context, st Store, sheet *workbook.Sheet) error

type step struct {
	tab   string
	build builder
}

// Tab order matters: entities must exist before the correspondence tabs link
// them, and indicators and EPCIs before the fact matrices reference them.
var steps = []step{
	{"Table Besoins", buildNeeds},
	{"Table Objectifs", buildObjectives},
	{"Table Type indicateurs", buildIndicatorTypes},
	{"Table Indicateurs-Sources", buildIndicators},
	{"Correspondance Indicateurs-Beso", buildNeedLinks},
	{"Correspondance Indicateurs-Obje", buildObjectiveLinks},
	{"Correspondance Indicateurs-Type", buildTypeLinks},
	{"Table EPCI", buildEPCIs},
	{"Table Valeurs", buildValueMatrix},
	{"Table Scores indicateurs", buildScoreMatrix},
}

type Beginner interface {
	BeginImport(ctx context.Context) (*store.Importer, error)
}

// Run imports every recognized tab of the workbook in one transaction.
// Missing tabs are skipped with a warning; any builder error rolls the whole
// import back.
func Run(ctx context.Context, db Beginner, source Source) error {
	importer, err := db.BeginImport(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	if err := run(ctx, importer, source); err != nil {
		if rbErr := importer.Rollback(); rbErr != nil {
			log.Printf("rollback import: %v", rbErr)
		}
		return err
	}
	if err := importer.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func run(ctx context.Context, st Store, source Source) error {
	for _, step := range steps {
		sheet, found := source.Sheet(step.tab)
		if !found {
			log.Printf("workbook tab %q not found, skipping", step.tab)
			continue
		}
		log.Printf("ingesting tab %q (%d rows)", step.tab, len(sheet.Rows))
		if err := step.build(ctx, st, sheet); err != nil {
			return fmt.Errorf("ingest tab %q: %w", step.tab, err)
		}
	}
	return nil
}
