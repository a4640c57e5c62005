package store

import "time"

// Reference entities are upserted wholesale from the workbook; the pipeline
// never deletes them. The denormalized relationship caches live only in the
// JSONB columns, rewritten through the Set*IDs calls once per import.

type Need struct {
	ID          string
	Label       string
	Category    *string
	Description *string
}

type Objective struct {
	ID          string
	Label       string
	Description *string
}

type IndicatorType struct {
	ID          string
	Label       string
	Description *string
}

type Indicator struct {
	ID              string
	Label           string
	Description     *string
	PrimarySource   *string
	PrimaryURL      *string
	APIAvailable    bool
	SecondarySource *string
	SecondaryURL    *string
	ValueType       *string
	Unit            *string
}

type EPCI struct {
	ID                    string
	Label                 string
	DepartmentCode        *string
	RegionCode            *string
	LegalForm             *string
	PopulationCommunal    *int
	PopulationTotal       *int
	AreaKm2               *float64
	UrbanisedAreaKm2      *float64
	DensityPerKm2         *float64
	DepartmentCount       *int
	RegionCount           *int
	MemberCount           *int
	DelegateCount         *int
	CompetenceCount       *int
	FiscalPotential       *float64
	GrantGlobal           *float64
	GrantCompensation     *float64
	GrantIntercommunality *float64
	SeatCity              *string
	Source                string
}

// IndicatorValue is a raw fact keyed by (epci, indicator, year). Year 0 is
// the sentinel for workbook matrices, which carry no year column; explicit
// years come only from the per-indicator producers.
type IndicatorValue struct {
	EPCIID      string
	IndicatorID string
	Year        int
	Value       *float64
	Unit        *string
	Source      *string
	EPCILabel   *string
	Meta        map[string]any
}

type IndicatorScore struct {
	EPCIID         string
	IndicatorID    string
	Year           int
	IndicatorScore *float64
	NeedID         *string
	NeedScore      *float64
	ObjectiveID    *string
	ObjectiveScore *float64
	TypeID         *string
	TypeScore      *float64
	GlobalScore    *float64
	EPCILabel      *string
	Report         map[string]any
}

// Read-side shapes for the aggregation queries.

type ScoreSummary struct {
	EPCIID         string
	EPCILabel      string
	DepartmentCode *string
	RegionCode     *string
	GlobalScore    *float64
	IndicatorCount int
	UpdatedAt      *time.Time
}

type AggregatedScore struct {
	ID    string
	Label *string
	Score *float64
}

type IndicatorScoreDetail struct {
	IndicatorID    string
	IndicatorLabel string
	IndicatorScore *float64
	NeedID         *string
	NeedLabel      *string
	NeedScore      *float64
	ObjectiveID    *string
	ObjectiveLabel *string
	ObjectiveScore *float64
	TypeID         *string
	TypeLabel      *string
	TypeScore      *float64
}
