package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LatestScoreYear returns the maximum year across all score facts, 0 when
// the store holds no scores at all.
func (s *PostgresStore) LatestScoreYear(ctx context.Context) (int, error) {
	var year int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(annee), 0) FROM score_indicateur`).Scan(&year)
	if err != nil {
		return 0, fmt.Errorf("latest score year: %w", err)
	}
	return year, nil
}

const summaryCTE = `
	WITH summary AS (
		SELECT s.id_epci AS epci_id,
			e.libelle AS epci_label,
			e.departement_code,
			e.region_code,
			AVG(s.score_global)::float8 AS global_score,
			COUNT(s.id_indicateur)::int AS indicator_count,
			MAX(s.updated_at) AS updated_at
		FROM score_indicateur s
		JOIN epci e ON e.id_epci = s.id_epci
		WHERE s.annee = $1
			AND ($2 = ''
				OR LOWER(e.libelle) LIKE '%' || LOWER($2) || '%'
				OR LOWER(s.id_epci) LIKE '%' || LOWER($2) || '%')
		GROUP BY s.id_epci, e.libelle, e.departement_code, e.region_code
	)
`

var summaryOrder = map[string]string{
	"name":  "epci_label ASC",
	"score": "global_score DESC NULLS LAST",
	"code":  "epci_id ASC",
}

// CountScoreSummaries returns the number of territorial units with score
// facts for the year, after the optional search filter.
func (s *PostgresStore) CountScoreSummaries(ctx context.Context, year int, search string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, summaryCTE+`SELECT COUNT(*) FROM summary`, year, search).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count score summaries: %w", err)
	}
	return total, nil
}

// ListScoreSummaries returns one aggregated row per territorial unit for the
// year. orderBy must be one of name, score, code; anything else falls back
// to name (the HTTP layer rejects unknown values before this point).
func (s *PostgresStore) ListScoreSummaries(ctx context.Context, year int, search, orderBy string, limit, offset int) ([]ScoreSummary, error) {
	orderExpr, known := summaryOrder[orderBy]
	if !known {
		orderExpr = summaryOrder["name"]
	}
	query := summaryCTE + `
		SELECT epci_id, epci_label, departement_code, region_code, global_score, indicator_count, updated_at
		FROM summary
		ORDER BY ` + orderExpr + `
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.QueryContext(ctx, query, year, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list score summaries: %w", err)
	}
	defer rows.Close()

	items := make([]ScoreSummary, 0)
	for rows.Next() {
		var item ScoreSummary
		if err := rows.Scan(
			&item.EPCIID,
			&item.EPCILabel,
			&item.DepartmentCode,
			&item.RegionCode,
			&item.GlobalScore,
			&item.IndicatorCount,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan score summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate score summaries: %w", err)
	}
	return items, nil
}

// GetScoreSummary returns the aggregated row for one unit and year;
// sql.ErrNoRows when the unit has no score facts for that year.
func (s *PostgresStore) GetScoreSummary(ctx context.Context, epciID string, year int) (ScoreSummary, error) {
	var item ScoreSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id_epci,
			e.libelle,
			e.departement_code,
			e.region_code,
			AVG(s.score_global)::float8,
			COUNT(s.id_indicateur)::int,
			MAX(s.updated_at)
		FROM score_indicateur s
		JOIN epci e ON e.id_epci = s.id_epci
		WHERE s.annee = $1 AND s.id_epci = $2
		GROUP BY s.id_epci, e.libelle, e.departement_code, e.region_code
	`, year, epciID).Scan(
		&item.EPCIID,
		&item.EPCILabel,
		&item.DepartmentCode,
		&item.RegionCode,
		&item.GlobalScore,
		&item.IndicatorCount,
		&item.UpdatedAt,
	)
	if err != nil {
		return ScoreSummary{}, err
	}
	return item, nil
}

func (s *PostgresStore) aggregatedScores(ctx context.Context, query, epciID string, year int) ([]AggregatedScore, error) {
	rows, err := s.db.QueryContext(ctx, query, year, epciID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]AggregatedScore, 0)
	for rows.Next() {
		var item AggregatedScore
		if err := rows.Scan(&item.ID, &item.Label, &item.Score); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AggregatedNeedScores averages the need sub-score per related need for one
// unit and year, null relation ids excluded, ordered by need label.
func (s *PostgresStore) AggregatedNeedScores(ctx context.Context, epciID string, year int) ([]AggregatedScore, error) {
	items, err := s.aggregatedScores(ctx, `
		SELECT s.id_besoin, b.libelle, AVG(s.score_besoin)::float8
		FROM score_indicateur s
		LEFT JOIN besoin b ON b.id_besoin = s.id_besoin
		WHERE s.annee = $1 AND s.id_epci = $2 AND s.id_besoin IS NOT NULL
		GROUP BY s.id_besoin, b.libelle
		ORDER BY b.libelle ASC
	`, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("aggregate need scores: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AggregatedObjectiveScores(ctx context.Context, epciID string, year int) ([]AggregatedScore, error) {
	items, err := s.aggregatedScores(ctx, `
		SELECT s.id_objectif, o.libelle, AVG(s.score_objectif)::float8
		FROM score_indicateur s
		LEFT JOIN objectif o ON o.id_objectif = s.id_objectif
		WHERE s.annee = $1 AND s.id_epci = $2 AND s.id_objectif IS NOT NULL
		GROUP BY s.id_objectif, o.libelle
		ORDER BY o.libelle ASC
	`, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("aggregate objective scores: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AggregatedTypeScores(ctx context.Context, epciID string, year int) ([]AggregatedScore, error) {
	items, err := s.aggregatedScores(ctx, `
		SELECT s.id_type, t.libelle, AVG(s.score_type)::float8
		FROM score_indicateur s
		LEFT JOIN type_indicateur t ON t.id_type = s.id_type
		WHERE s.annee = $1 AND s.id_epci = $2 AND s.id_type IS NOT NULL
		GROUP BY s.id_type, t.libelle
		ORDER BY t.libelle ASC
	`, epciID, year)
	if err != nil {
		return nil, fmt.Errorf("aggregate type scores: %w", err)
	}
	return items, nil
}

// ListIndicatorScoreDetails returns every per-indicator score row for one
// unit and year, joined to the related reference labels for display.
func (s *PostgresStore) ListIndicatorScoreDetails(ctx context.Context, epciID string, year int) ([]IndicatorScoreDetail, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id_indicateur, i.libelle,
			s.score_indicateur::float8,
			s.id_besoin, b.libelle, s.score_besoin::float8,
			s.id_objectif, o.libelle, s.score_objectif::float8,
			s.id_type, t.libelle, s.score_type::float8
		FROM score_indicateur s
		JOIN indicateur i ON i.id_indicateur = s.id_indicateur
		LEFT JOIN besoin b ON b.id_besoin = s.id_besoin
		LEFT JOIN objectif o ON o.id_objectif = s.id_objectif
		LEFT JOIN type_indicateur t ON t.id_type = s.id_type
		WHERE s.annee = $1 AND s.id_epci = $2
		ORDER BY i.libelle ASC
	`, year, epciID)
	if err != nil {
		return nil, fmt.Errorf("list indicator score details: %w", err)
	}
	defer rows.Close()

	items := make([]IndicatorScoreDetail, 0)
	for rows.Next() {
		var item IndicatorScoreDetail
		if err := rows.Scan(
			&item.IndicatorID,
			&item.IndicatorLabel,
			&item.IndicatorScore,
			&item.NeedID,
			&item.NeedLabel,
			&item.NeedScore,
			&item.ObjectiveID,
			&item.ObjectiveLabel,
			&item.ObjectiveScore,
			&item.TypeID,
			&item.TypeLabel,
			&item.TypeScore,
		); err != nil {
			return nil, fmt.Errorf("scan indicator score detail: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicator score details: %w", err)
	}
	return items, nil
}

// IndicatorExists reports whether the reference indicator is known. The fact
// producers refuse to push values for indicators the reference import has
// not created yet.
func (s *PostgresStore) IndicatorExists(ctx context.Context, indicatorID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM indicateur WHERE id_indicateur=$1)`, indicatorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check indicator %s: %w", indicatorID, err)
	}
	return exists, nil
}

// RawValues returns the non-null raw values of one indicator for a year,
// keyed by territorial unit.
func (s *PostgresStore) RawValues(ctx context.Context, indicatorID string, year int) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_epci, valeur_brute::float8
		FROM valeur_indicateur
		WHERE id_indicateur = $1 AND annee = $2 AND valeur_brute IS NOT NULL
	`, indicatorID, year)
	if err != nil {
		return nil, fmt.Errorf("raw values %s: %w", indicatorID, err)
	}
	defer rows.Close()

	values := make(map[string]float64)
	for rows.Next() {
		var epciID string
		var value float64
		if err := rows.Scan(&epciID, &value); err != nil {
			return nil, fmt.Errorf("scan raw value: %w", err)
		}
		values[epciID] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw values: %w", err)
	}
	return values, nil
}

// Importer is the transaction-scoped write handle for one ingestion run.
// Every write within the run goes through the same transaction; Commit or
// Rollback is called exactly once at the end.
type Importer struct {
	tx *sql.Tx
}

func (s *PostgresStore) BeginImport(ctx context.Context) (*Importer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import tx: %w", err)
	}
	return &Importer{tx: tx}, nil
}

func (im *Importer) Commit() error {
	if err := im.tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func (im *Importer) Rollback() error {
	return im.tx.Rollback()
}

func (im *Importer) UpsertNeed(ctx context.Context, need Need) error {
	_, err := im.tx.ExecContext(ctx, `
		INSERT INTO besoin (id_besoin, libelle, categorie, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id_besoin) DO UPDATE
		SET libelle=EXCLUDED.libelle, categorie=EXCLUDED.categorie,
			description=EXCLUDED.description, updated_at=NOW()
	`, need.ID, need.Label, need.Category, need.Description)
	if err != nil {
		return fmt.Errorf("upsert need %s: %w", need.ID, err)
	}
	return nil
}

func (im *Importer) UpsertObjective(ctx context.Context, objective Objective) error {
	_, err := im.tx.ExecContext(ctx, `
		INSERT INTO objectif (id_objectif, libelle, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id_objectif) DO UPDATE
		SET libelle=EXCLUDED.libelle, description=EXCLUDED.description, updated_at=NOW()
	`, objective.ID, objective.Label, objective.Description)
	if err != nil {
		return fmt.Errorf("upsert objective %s: %w", objective.ID, err)
	}
	return nil
}

func (im *Importer) UpsertIndicatorType(ctx context.Context, indicatorType IndicatorType) error {
	_, err := im.tx.ExecContext(ctx, `
		INSERT INTO type_indicateur (id_type, libelle, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id_type) DO UPDATE
		SET libelle=EXCLUDED.libelle, description=EXCLUDED.description, updated_at=NOW()
	`, indicatorType.ID, indicatorType.Label, indicatorType.Description)
	if err != nil {
		return fmt.Errorf("upsert indicator type %s: %w", indicatorType.ID, err)
	}
	return nil
}

func (im *Importer) UpsertIndicator(ctx context.Context, indicator Indicator) error {
	_, err := im.tx.ExecContext(ctx, `
		INSERT INTO indicateur (id_indicateur, libelle, description, source_principale, url_principale,
			api_disponible, source_secondaire, url_secondaire, type_valeur, unite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id_indicateur) DO UPDATE
		SET libelle=EXCLUDED.libelle, description=EXCLUDED.description,
			source_principale=EXCLUDED.source_principale, url_principale=EXCLUDED.url_principale,
			api_disponible=EXCLUDED.api_disponible, source_secondaire=EXCLUDED.source_secondaire,
			url_secondaire=EXCLUDED.url_secondaire, type_valeur=EXCLUDED.type_valeur,
			unite=EXCLUDED.unite, updated_at=NOW()
	`, indicator.ID, indicator.Label, indicator.Description, indicator.PrimarySource, indicator.PrimaryURL,
		indicator.APIAvailable, indicator.SecondarySource, indicator.SecondaryURL, indicator.ValueType, indicator.Unit)
	if err != nil {
		return fmt.Errorf("upsert indicator %s: %w", indicator.ID, err)
	}
	return nil
}

func (im *Importer) UpsertEPCI(ctx context.Context, epci EPCI) error {
	_, err := im.tx.ExecContext(ctx, `
		INSERT INTO epci (id_epci, libelle, departement_code, forme_juridique,
			population_commune, population_totale, surface_km2, surface_urbanisee_km2, densite_km2,
			nb_departements, nb_regions, nb_membres, nb_delegues, nb_competences,
			potentiel_fiscal, dotation_globale, dotation_compensation, dotation_intercommunalite,
			ville_siege, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id_epci) DO UPDATE
		SET libelle=EXCLUDED.libelle, departement_code=EXCLUDED.departement_code,
			forme_juridique=EXCLUDED.forme_juridique, population_commune=EXCLUDED.population_commune,
			population_totale=EXCLUDED.population_totale, surface_km2=EXCLUDED.surface_km2,
			surface_urbanisee_km2=EXCLUDED.surface_urbanisee_km2, densite_km2=EXCLUDED.densite_km2,
			nb_departements=EXCLUDED.nb_departements, nb_regions=EXCLUDED.nb_regions,
			nb_membres=EXCLUDED.nb_membres, nb_delegues=EXCLUDED.nb_delegues,
			nb_competences=EXCLUDED.nb_competences, potentiel_fiscal=EXCLUDED.potentiel_fiscal,
			dotation_globale=EXCLUDED.dotation_globale, dotation_compensation=EXCLUDED.dotation_compensation,
			dotation_intercommunalite=EXCLUDED.dotation_intercommunalite, ville_siege=EXCLUDED.ville_siege,
			source=EXCLUDED.source, date_import=NOW()
	`, epci.ID, epci.Label, epci.DepartmentCode, epci.LegalForm,
		epci.PopulationCommunal, epci.PopulationTotal, epci.AreaKm2, epci.UrbanisedAreaKm2, epci.DensityPerKm2,
		epci.DepartmentCount, epci.RegionCount, epci.MemberCount, epci.DelegateCount, epci.CompetenceCount,
		epci.FiscalPotential, epci.GrantGlobal, epci.GrantCompensation, epci.GrantIntercommunality,
		epci.SeatCity, epci.Source)
	if err != nil {
		return fmt.Errorf("upsert epci %s: %w", epci.ID, err)
	}
	return nil
}

func (im *Importer) UpsertIndicatorValue(ctx context.Context, value IndicatorValue) error {
	meta, err := encodeMeta(value.Meta)
	if err != nil {
		return fmt.Errorf("encode value meta: %w", err)
	}
	_, err = im.tx.ExecContext(ctx, `
		INSERT INTO valeur_indicateur (id_epci, id_indicateur, annee, valeur_brute, unite, source, libelle_epci, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (id_epci, id_indicateur, annee) DO UPDATE
		SET valeur_brute=EXCLUDED.valeur_brute, unite=EXCLUDED.unite, source=EXCLUDED.source,
			libelle_epci=EXCLUDED.libelle_epci, meta=EXCLUDED.meta, date_import=NOW()
	`, value.EPCIID, value.IndicatorID, value.Year, value.Value, value.Unit, value.Source, value.EPCILabel, meta)
	if err != nil {
		return fmt.Errorf("upsert value %s/%s/%d: %w", value.EPCIID, value.IndicatorID, value.Year, err)
	}
	return nil
}

func (im *Importer) UpsertIndicatorScore(ctx context.Context, score IndicatorScore) error {
	report, err := encodeMeta(score.Report)
	if err != nil {
		return fmt.Errorf("encode score report: %w", err)
	}
	_, err = im.tx.ExecContext(ctx, `
		INSERT INTO score_indicateur (id_epci, id_indicateur, annee, score_indicateur,
			id_besoin, score_besoin, id_objectif, score_objectif, id_type, score_type,
			score_global, libelle_epci, rapport)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb)
		ON CONFLICT (id_epci, id_indicateur, annee) DO UPDATE
		SET score_indicateur=EXCLUDED.score_indicateur,
			id_besoin=EXCLUDED.id_besoin, score_besoin=EXCLUDED.score_besoin,
			id_objectif=EXCLUDED.id_objectif, score_objectif=EXCLUDED.score_objectif,
			id_type=EXCLUDED.id_type, score_type=EXCLUDED.score_type,
			score_global=EXCLUDED.score_global, libelle_epci=EXCLUDED.libelle_epci,
			rapport=EXCLUDED.rapport, updated_at=NOW()
	`, score.EPCIID, score.IndicatorID, score.Year, score.IndicatorScore,
		score.NeedID, score.NeedScore, score.ObjectiveID, score.ObjectiveScore, score.TypeID, score.TypeScore,
		score.GlobalScore, score.EPCILabel, report)
	if err != nil {
		return fmt.Errorf("upsert score %s/%s/%d: %w", score.EPCIID, score.IndicatorID, score.Year, err)
	}
	return nil
}

// NeedIDs snapshots the need ids visible to this transaction, staged rows
// included. Link builders use it to drop dangling references.
func (im *Importer) NeedIDs(ctx context.Context) (map[string]struct{}, error) {
	return im.idSet(ctx, `SELECT id_besoin FROM besoin`)
}

func (im *Importer) ObjectiveIDs(ctx context.Context) (map[string]struct{}, error) {
	return im.idSet(ctx, `SELECT id_objectif FROM objectif`)
}

func (im *Importer) TypeIDs(ctx context.Context) (map[string]struct{}, error) {
	return im.idSet(ctx, `SELECT id_type FROM type_indicateur`)
}

func (im *Importer) idSet(ctx context.Context, query string) (map[string]struct{}, error) {
	rows, err := im.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("snapshot ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// Relationship write-backs. Each one rewrites the whole cache in a single
// UPDATE, a no-op when the target row does not exist.

func (im *Importer) SetIndicatorNeedIDs(ctx context.Context, indicatorID string, needIDs []string) error {
	return im.setIDList(ctx, `UPDATE indicateur SET ids_besoins=$2::jsonb, updated_at=NOW() WHERE id_indicateur=$1`, indicatorID, needIDs)
}

func (im *Importer) SetIndicatorObjectiveIDs(ctx context.Context, indicatorID string, objectiveIDs []string) error {
	return im.setIDList(ctx, `UPDATE indicateur SET ids_objectifs=$2::jsonb, updated_at=NOW() WHERE id_indicateur=$1`, indicatorID, objectiveIDs)
}

func (im *Importer) SetIndicatorTypeIDs(ctx context.Context, indicatorID string, typeIDs []string) error {
	return im.setIDList(ctx, `UPDATE indicateur SET ids_types=$2::jsonb, updated_at=NOW() WHERE id_indicateur=$1`, indicatorID, typeIDs)
}

func (im *Importer) SetObjectiveIndicatorIDs(ctx context.Context, objectiveID string, indicatorIDs []string) error {
	return im.setIDList(ctx, `UPDATE objectif SET ids_indicateurs=$2::jsonb, updated_at=NOW() WHERE id_objectif=$1`, objectiveID, indicatorIDs)
}

func (im *Importer) SetTypeIndicatorIDs(ctx context.Context, typeID string, indicatorIDs []string) error {
	return im.setIDList(ctx, `UPDATE type_indicateur SET ids_indicateurs=$2::jsonb, updated_at=NOW() WHERE id_type=$1`, typeID, indicatorIDs)
}

// SetNeedIndicatorIDs also fills the need category when the needs sheet left
// it blank; an existing category is never overwritten.
func (im *Importer) SetNeedIndicatorIDs(ctx context.Context, needID string, indicatorIDs []string, category *string) error {
	encoded, err := encodeIDList(indicatorIDs)
	if err != nil {
		return err
	}
	_, err = im.tx.ExecContext(ctx, `
		UPDATE besoin
		SET ids_indicateurs=$2::jsonb, categorie=COALESCE(categorie, $3), updated_at=NOW()
		WHERE id_besoin=$1
	`, needID, encoded, category)
	if err != nil {
		return fmt.Errorf("set need indicators %s: %w", needID, err)
	}
	return nil
}

func (im *Importer) setIDList(ctx context.Context, query, id string, ids []string) error {
	encoded, err := encodeIDList(ids)
	if err != nil {
		return err
	}
	if _, err := im.tx.ExecContext(ctx, query, id, encoded); err != nil {
		return fmt.Errorf("set id list for %s: %w", id, err)
	}
	return nil
}

func encodeIDList(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal id list: %w", err)
	}
	return string(encoded), nil
}

func encodeMeta(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
