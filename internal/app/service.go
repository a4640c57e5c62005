// Package app exposes the read-side score aggregation over HTTP: a paginated
// list of per-EPCI summaries and a drill-down detail with need, objective and
// type rollups.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"diag360/api/internal/store"
)

// Store is the read surface the service needs; *store.PostgresStore satisfies
// it and tests plug a fake.
type Store interface {
	Ping(ctx context.Context) error
	LatestScoreYear(ctx context.Context) (int, error)
	CountScoreSummaries(ctx context.Context, year int, search string) (int, error)
	ListScoreSummaries(ctx context.Context, year int, search, orderBy string, limit, offset int) ([]store.ScoreSummary, error)
	GetScoreSummary(ctx context.Context, epciID string, year int) (store.ScoreSummary, error)
	AggregatedNeedScores(ctx context.Context, epciID string, year int) ([]store.AggregatedScore, error)
	AggregatedObjectiveScores(ctx context.Context, epciID string, year int) ([]store.AggregatedScore, error)
	AggregatedTypeScores(ctx context.Context, epciID string, year int) ([]store.AggregatedScore, error)
	ListIndicatorScoreDetails(ctx context.Context, epciID string, year int) ([]store.IndicatorScoreDetail, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type ListScoresInput struct {
	Search  string
	OrderBy string
	Limit   int
	Offset  int
	Year    *int
}

// resolveYear picks the year the queries run against: the caller's explicit
// year, otherwise the latest year present in the score facts. An empty store
// resolves to 0 and the queries come back empty.
func (s *Service) resolveYear(ctx context.Context, requested *int) (int, error) {
	if requested != nil {
		return *requested, nil
	}
	year, err := s.store.LatestScoreYear(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve latest year: %w", err)
	}
	return year, nil
}

func (s *Service) ListScores(ctx context.Context, input ListScoresInput) (map[string]any, error) {
	year, err := s.resolveYear(ctx, input.Year)
	if err != nil {
		return nil, err
	}

	total, err := s.store.CountScoreSummaries(ctx, year, input.Search)
	if err != nil {
		return nil, fmt.Errorf("count summaries: %w", err)
	}
	summaries, err := s.store.ListScoreSummaries(ctx, year, input.Search, input.OrderBy, input.Limit, input.Offset)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}

	items := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, summaryPayload(summary))
	}
	return map[string]any{
		"items":  items,
		"total":  total,
		"limit":  input.Limit,
		"offset": input.Offset,
		"annee":  year,
	}, nil
}

func (s *Service) ScoreDetail(ctx context.Context, epciID string, requestedYear *int) (map[string]any, error) {
	year, err := s.resolveYear(ctx, requestedYear)
	if err != nil {
		return nil, err
	}

	summary, err := s.store.GetScoreSummary(ctx, epciID, year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND",
				fmt.Sprintf("no scores for EPCI %s in year %d", epciID, year), nil)
		}
		return nil, fmt.Errorf("summary for %s: %w", epciID, err)
	}

	needs, err := s.store.AggregatedNeedScores(ctx, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("need rollup for %s: %w", epciID, err)
	}
	objectives, err := s.store.AggregatedObjectiveScores(ctx, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("objective rollup for %s: %w", epciID, err)
	}
	types, err := s.store.AggregatedTypeScores(ctx, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("type rollup for %s: %w", epciID, err)
	}
	indicators, err := s.store.ListIndicatorScoreDetails(ctx, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("indicator rows for %s: %w", epciID, err)
	}

	return map[string]any{
		"summary":    summaryPayload(summary),
		"needs":      aggregatedPayload(needs),
		"objectives": aggregatedPayload(objectives),
		"types":      aggregatedPayload(types),
		"indicators": indicatorPayload(indicators),
		"annee":      year,
	}, nil
}

func summaryPayload(summary store.ScoreSummary) map[string]any {
	return map[string]any{
		"id_epci":        summary.EPCIID,
		"libelle_epci":   summary.EPCILabel,
		"departement":    summary.DepartmentCode,
		"region":         summary.RegionCode,
		"score_global":   summary.GlobalScore,
		"nb_indicateurs": summary.IndicatorCount,
		"updated_at":     summary.UpdatedAt,
	}
}

func aggregatedPayload(scores []store.AggregatedScore) []map[string]any {
	items := make([]map[string]any, 0, len(scores))
	for _, score := range scores {
		items = append(items, map[string]any{
			"id":      score.ID,
			"libelle": score.Label,
			"score":   score.Score,
		})
	}
	return items
}

func indicatorPayload(details []store.IndicatorScoreDetail) []map[string]any {
	items := make([]map[string]any, 0, len(details))
	for _, detail := range details {
		items = append(items, map[string]any{
			"id_indicateur":      detail.IndicatorID,
			"libelle_indicateur": detail.IndicatorLabel,
			"score_indicateur":   detail.IndicatorScore,
			"id_besoin":          detail.NeedID,
			"libelle_besoin":     detail.NeedLabel,
			"score_besoin":       detail.NeedScore,
			"id_objectif":        detail.ObjectiveID,
			"libelle_objectif":   detail.ObjectiveLabel,
			"score_objectif":     detail.ObjectiveScore,
			"id_type":            detail.TypeID,
			"libelle_type":       detail.TypeLabel,
			"score_type":         detail.TypeScore,
		})
	}
	return items
}
