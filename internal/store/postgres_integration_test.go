package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }

// Exercises the real upsert and aggregation SQL: importing the same fixture
// twice must leave every table unchanged, and the need rollup must average
// the per-fact sub-scores.
func TestImportIdempotenceAndRollupPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("DIAG360_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DIAG360_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	st := NewPostgresStore(db)

	importFixture := func() {
		t.Helper()
		importer, err := st.BeginImport(ctx)
		if err != nil {
			t.Fatalf("begin import: %v", err)
		}
		if err := importer.UpsertNeed(ctx, Need{ID: "b1", Label: "Se nourrir", Category: strPtr("Vital")}); err != nil {
			t.Fatalf("upsert need: %v", err)
		}
		for _, indicator := range []Indicator{
			{ID: "i001", Label: "Part agricole"},
			{ID: "i002", Label: "Eau potable"},
		} {
			if err := importer.UpsertIndicator(ctx, indicator); err != nil {
				t.Fatalf("upsert indicator %s: %v", indicator.ID, err)
			}
		}
		if err := importer.UpsertEPCI(ctx, EPCI{ID: "200000172", Label: "CA du Bassin", Source: "Excel/Table EPCI"}); err != nil {
			t.Fatalf("upsert epci: %v", err)
		}
		if err := importer.SetIndicatorNeedIDs(ctx, "i001", []string{"b1"}); err != nil {
			t.Fatalf("set indicator needs: %v", err)
		}
		if err := importer.SetNeedIndicatorIDs(ctx, "b1", []string{"i001", "i002"}, nil); err != nil {
			t.Fatalf("set need indicators: %v", err)
		}
		for _, value := range []IndicatorValue{
			{EPCIID: "200000172", IndicatorID: "i001", Year: 0, Value: floatPtr(12.5)},
			{EPCIID: "200000172", IndicatorID: "i002", Year: 0, Value: floatPtr(7)},
		} {
			if err := importer.UpsertIndicatorValue(ctx, value); err != nil {
				t.Fatalf("upsert value %s: %v", value.IndicatorID, err)
			}
		}
		for _, score := range []IndicatorScore{
			{
				EPCIID: "200000172", IndicatorID: "i001", Year: 2023,
				IndicatorScore: floatPtr(80), GlobalScore: floatPtr(80),
				NeedID: strPtr("b1"), NeedScore: floatPtr(80),
			},
			{
				EPCIID: "200000172", IndicatorID: "i002", Year: 2023,
				IndicatorScore: floatPtr(60), GlobalScore: floatPtr(60),
				NeedID: strPtr("b1"), NeedScore: floatPtr(60),
			},
		} {
			if err := importer.UpsertIndicatorScore(ctx, score); err != nil {
				t.Fatalf("upsert score %s: %v", score.IndicatorID, err)
			}
		}
		if err := importer.Commit(); err != nil {
			t.Fatalf("commit import: %v", err)
		}
	}

	tableCounts := func() map[string]int {
		t.Helper()
		counts := map[string]int{}
		for _, table := range []string{"besoin", "indicateur", "epci", "valeur_indicateur", "score_indicateur"} {
			var count int
			if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
				t.Fatalf("count %s: %v", table, err)
			}
			counts[table] = count
		}
		return counts
	}

	importFixture()
	first := tableCounts()

	importFixture()
	second := tableCounts()

	for table, count := range first {
		if second[table] != count {
			t.Errorf("table %s: %d rows after reimport, want %d", table, second[table], count)
		}
	}

	summary, err := st.GetScoreSummary(ctx, "200000172", 2023)
	if err != nil {
		t.Fatalf("score summary: %v", err)
	}
	if summary.IndicatorCount != 2 {
		t.Errorf("indicator count = %d, want 2", summary.IndicatorCount)
	}
	if summary.GlobalScore == nil || math.Abs(*summary.GlobalScore-70) > 1e-9 {
		t.Errorf("global score = %v, want 70", summary.GlobalScore)
	}

	needs, err := st.AggregatedNeedScores(ctx, "200000172", 2023)
	if err != nil {
		t.Fatalf("need rollup: %v", err)
	}
	if len(needs) != 1 {
		t.Fatalf("need rollup rows = %d, want 1", len(needs))
	}
	if needs[0].ID != "b1" || needs[0].Label == nil || *needs[0].Label != "Se nourrir" {
		t.Errorf("need rollup row = %+v", needs[0])
	}
	if needs[0].Score == nil || math.Abs(*needs[0].Score-70) > 1e-9 {
		t.Errorf("need score = %v, want mean 70", needs[0].Score)
	}

	var value float64
	if err := db.QueryRowContext(ctx,
		`SELECT valeur_brute::float8 FROM valeur_indicateur WHERE id_epci='200000172' AND id_indicateur='i001' AND annee=0`,
	).Scan(&value); err != nil {
		t.Fatalf("read value after reimport: %v", err)
	}
	if value != 12.5 {
		t.Errorf("valeur_brute = %v, want 12.5", value)
	}
}
