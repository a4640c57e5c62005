package ingest

import (
	"context"
	"log"
	"sort"

	"diag360/api/internal/canonical"
	"diag360/api/internal/store"
	"diag360/api/internal/workbook"
)

// Store is the transaction-scoped write surface the builders need. It is
// satisfied by *store.Importer; every call within one run hits the same
// transaction.
type Store interface {
	UpsertNeed(ctx context.Context, need store.Need) error
	UpsertObjective(ctx context.Context, objective store.Objective) error
	UpsertIndicatorType(ctx context.Context, indicatorType store.IndicatorType) error
	UpsertIndicator(ctx context.Context, indicator store.Indicator) error
	UpsertEPCI(ctx context.Context, epci store.EPCI) error
	UpsertIndicatorValue(ctx context.Context, value store.IndicatorValue) error
	UpsertIndicatorScore(ctx context.Context, score store.IndicatorScore) error

	NeedIDs(ctx context.Context) (map[string]struct{}, error)
	ObjectiveIDs(ctx context.Context) (map[string]struct{}, error)
	TypeIDs(ctx context.Context) (map[string]struct{}, error)

	SetIndicatorNeedIDs(ctx context.Context, indicatorID string, needIDs []string) error
	SetIndicatorObjectiveIDs(ctx context.Context, indicatorID string, objectiveIDs []string) error
	SetIndicatorTypeIDs(ctx context.Context, indicatorID string, typeIDs []string) error
	SetNeedIndicatorIDs(ctx context.Context, needID string, indicatorIDs []string, category *string) error
	SetObjectiveIndicatorIDs(ctx context.Context, objectiveID string, indicatorIDs []string) error
	SetTypeIndicatorIDs(ctx context.Context, typeID string, indicatorIDs []string) error
}

func orDefault(text *string, fallback string) string {
	if text == nil {
		return fallback
	}
	return *text
}

func buildNeeds(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	for i := range sheet.Rows {
		id := canonical.Text(sheet.Cell(i, "ID_besoins"))
		if id == nil {
			continue
		}
		category := canonical.Text(sheet.Cell(i, "Type_de_besoins"))
		if category == nil {
			category = canonical.Text(sheet.Cell(i, "Catégorie"))
		}
		need := store.Need{
			ID:          *id,
			Label:       orDefault(canonical.Text(sheet.Cell(i, "Libellé")), ""),
			Category:    category,
			Description: canonical.Text(sheet.Cell(i, "Description")),
		}
		if err := st.UpsertNeed(ctx, need); err != nil {
			return err
		}
	}
	return nil
}

func buildObjectives(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	for i := range sheet.Rows {
		id := canonical.Text(sheet.Cell(i, "ID_Objectifs"))
		if id == nil {
			continue
		}
		objective := store.Objective{
			ID:          *id,
			Label:       orDefault(canonical.Text(sheet.Cell(i, "Libellé")), ""),
			Description: canonical.Text(sheet.Cell(i, "Description")),
		}
		if err := st.UpsertObjective(ctx, objective); err != nil {
			return err
		}
	}
	return nil
}

func buildIndicatorTypes(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	for i := range sheet.Rows {
		id := canonical.Text(sheet.Cell(i, "ID_"))
		if id == nil {
			id = canonical.Text(sheet.Cell(i, "ID_Type"))
		}
		if id == nil {
			continue
		}
		indicatorType := store.IndicatorType{
			ID:          *id,
			Label:       orDefault(canonical.Text(sheet.Cell(i, "Libellé")), ""),
			Description: canonical.Text(sheet.Cell(i, "Description")),
		}
		if err := st.UpsertIndicatorType(ctx, indicatorType); err != nil {
			return err
		}
	}
	return nil
}

func buildIndicators(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	for i := range sheet.Rows {
		id := canonical.IndicatorID(sheet.Cell(i, "ID_indicateurs"))
		if id == nil {
			continue
		}
		indicator := store.Indicator{
			ID:              *id,
			Label:           orDefault(canonical.Text(sheet.Cell(i, "Libellé_indicateurs")), ""),
			Description:     canonical.Text(sheet.Cell(i, "Description")),
			PrimarySource:   canonical.Text(sheet.Cell(i, "Domaine_Source_principale")),
			PrimaryURL:      canonical.Text(sheet.Cell(i, "URL Source_Principale")),
			APIAvailable:    canonical.Flag(sheet.Cell(i, "API disponible")),
			SecondarySource: canonical.Text(sheet.Cell(i, "Domaine_Source_secondaire")),
			SecondaryURL:    canonical.Text(sheet.Cell(i, "URL_Source_Secondaire")),
			ValueType:       canonical.Text(sheet.Cell(i, "TYPE DE VALEUR")),
			Unit:            canonical.Text(sheet.Cell(i, "Unité")),
		}
		if err := st.UpsertIndicator(ctx, indicator); err != nil {
			return err
		}
	}
	return nil
}

var needColumns = []string{"Besoin 1", "Besoin 2", "Besoin 3", "Besoin 4", "Besoin 5"}

// buildNeedLinks accumulates the indicator↔need relationships in one pass
// and writes each side back once per sheet, so both caches always reflect
// the same import. Needs absent from the store are dropped, not created.
func buildNeedLinks(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	knownNeeds, err := st.NeedIDs(ctx)
	if err != nil {
		return err
	}

	indicatorToNeeds := make(map[string]map[string]struct{})
	needToIndicators := make(map[string]map[string]struct{})
	needCategories := make(map[string]string)
	dropped := 0

	for i := range sheet.Rows {
		indicatorID := canonical.IndicatorID(sheet.Cell(i, "ID_Indicateurs"))
		if indicatorID == nil {
			continue
		}
		var needs []string
		if base := canonical.Text(sheet.Cell(i, "ID_Besoin")); base != nil {
			needs = append(needs, *base)
		}
		for _, column := range needColumns {
			if extra := canonical.Text(sheet.Cell(i, column)); extra != nil {
				needs = append(needs, *extra)
			}
		}
		category := canonical.Text(sheet.Cell(i, "Type_de_besoins"))
		if category == nil {
			category = canonical.Text(sheet.Cell(i, "Type de besoins"))
		}
		for _, needID := range needs {
			if _, exists := knownNeeds[needID]; !exists {
				dropped++
				continue
			}
			addLink(indicatorToNeeds, *indicatorID, needID)
			addLink(needToIndicators, needID, *indicatorID)
			if category != nil {
				if _, seen := needCategories[needID]; !seen {
					needCategories[needID] = *category
				}
			}
		}
	}
	if dropped > 0 {
		log.Printf("sheet %s: dropped %d references to unknown needs", sheet.Name, dropped)
	}

	for _, indicatorID := range sortedKeys(indicatorToNeeds) {
		if err := st.SetIndicatorNeedIDs(ctx, indicatorID, sortedIDs(indicatorToNeeds[indicatorID])); err != nil {
			return err
		}
	}
	for _, needID := range sortedKeys(needToIndicators) {
		var category *string
		if c, seen := needCategories[needID]; seen {
			category = &c
		}
		if err := st.SetNeedIndicatorIDs(ctx, needID, sortedIDs(needToIndicators[needID]), category); err != nil {
			return err
		}
	}
	return nil
}

// The objective link tab encodes each relationship as a boolean flag column
// mapped to a fixed objective id.
var objectiveFlagColumns = []struct {
	column      string
	objectiveID string
}{
	{"o1_Subsistance", "o1"},
	{"o2_Gestion-de-crise", "o2"},
	{"o3_Soutenabilité", "o3"},
}

func buildObjectiveLinks(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	knownObjectives, err := st.ObjectiveIDs(ctx)
	if err != nil {
		return err
	}

	indicatorToObjectives := make(map[string]map[string]struct{})
	objectiveToIndicators := make(map[string]map[string]struct{})

	for i := range sheet.Rows {
		indicatorID := canonical.IndicatorID(sheet.Cell(i, "ID_Indicateurs"))
		if indicatorID == nil {
			continue
		}
		for _, flag := range objectiveFlagColumns {
			if _, exists := knownObjectives[flag.objectiveID]; !exists {
				continue
			}
			if !canonical.Flag(sheet.Cell(i, flag.column)) {
				continue
			}
			addLink(indicatorToObjectives, *indicatorID, flag.objectiveID)
			addLink(objectiveToIndicators, flag.objectiveID, *indicatorID)
		}
	}

	for _, indicatorID := range sortedKeys(indicatorToObjectives) {
		if err := st.SetIndicatorObjectiveIDs(ctx, indicatorID, sortedIDs(indicatorToObjectives[indicatorID])); err != nil {
			return err
		}
	}
	for _, objectiveID := range sortedKeys(objectiveToIndicators) {
		if err := st.SetObjectiveIndicatorIDs(ctx, objectiveID, sortedIDs(objectiveToIndicators[objectiveID])); err != nil {
			return err
		}
	}
	return nil
}

var typeFlagColumns = []struct {
	column string
	typeID string
}{
	{"Typ1_Etat", "Typ1"},
	{"Typ2_Action", "Typ2"},
}

func buildTypeLinks(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	knownTypes, err := st.TypeIDs(ctx)
	if err != nil {
		return err
	}

	indicatorToTypes := make(map[string]map[string]struct{})
	typeToIndicators := make(map[string]map[string]struct{})

	for i := range sheet.Rows {
		indicatorID := canonical.IndicatorID(sheet.Cell(i, "ID_indicateurs"))
		if indicatorID == nil {
			continue
		}
		for _, flag := range typeFlagColumns {
			if _, exists := knownTypes[flag.typeID]; !exists {
				continue
			}
			if !canonical.Flag(sheet.Cell(i, flag.column)) {
				continue
			}
			addLink(indicatorToTypes, *indicatorID, flag.typeID)
			addLink(typeToIndicators, flag.typeID, *indicatorID)
		}
	}

	for _, indicatorID := range sortedKeys(indicatorToTypes) {
		if err := st.SetIndicatorTypeIDs(ctx, indicatorID, sortedIDs(indicatorToTypes[indicatorID])); err != nil {
			return err
		}
	}
	for _, typeID := range sortedKeys(typeToIndicators) {
		if err := st.SetTypeIndicatorIDs(ctx, typeID, sortedIDs(typeToIndicators[typeID])); err != nil {
			return err
		}
	}
	return nil
}

func buildEPCIs(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	for i := range sheet.Rows {
		siren := canonical.Code(sheet.CellFold(i, "siren"))
		if siren == nil {
			continue
		}
		epci := store.EPCI{
			ID:                    *siren,
			DepartmentCode:        canonical.Code(sheet.CellFold(i, "dept")),
			Label:                 orDefault(canonical.Text(sheet.CellFold(i, "epci_libellé")), ""),
			LegalForm:             canonical.Text(sheet.CellFold(i, "nature_juridique")),
			PopulationCommunal:    canonical.Int(sheet.CellFold(i, "total_pop_mun")),
			PopulationTotal:       canonical.Int(sheet.CellFold(i, "total_pop_tot")),
			AreaKm2:               canonical.Float(sheet.CellFold(i, "superficie_km2")),
			UrbanisedAreaKm2:      canonical.Float(sheet.CellFold(i, "superficie_urbanisee_km2")),
			DensityPerKm2:         canonical.Float(sheet.CellFold(i, "densite_par_km2")),
			DepartmentCount:       canonical.Int(sheet.CellFold(i, "nb_departements")),
			RegionCount:           canonical.Int(sheet.CellFold(i, "nb_regions")),
			MemberCount:           canonical.Int(sheet.CellFold(i, "nb_membres")),
			DelegateCount:         canonical.Int(sheet.CellFold(i, "nb_delegues")),
			CompetenceCount:       canonical.Int(sheet.CellFold(i, "nb_competences")),
			FiscalPotential:       canonical.Float(sheet.CellFold(i, "potentiel_fiscal")),
			GrantGlobal:           canonical.Float(sheet.CellFold(i, "dotation_globale")),
			GrantCompensation:     canonical.Float(sheet.CellFold(i, "dotation_compensation")),
			GrantIntercommunality: canonical.Float(sheet.CellFold(i, "dotation_intercommunalite")),
			SeatCity:              canonical.Text(sheet.CellFold(i, "ville_siege")),
			Source:                "Excel/Table EPCI",
		}
		if err := st.UpsertEPCI(ctx, epci); err != nil {
			return err
		}
	}
	return nil
}

// buildValueMatrix melts the wide value matrix into one fact per (unit,
// indicator) pair, year fixed to the sentinel 0. A tab without indicator
// columns is skipped with a warning; a tab without a unit id column aborts
// the run.
func buildValueMatrix(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	rows, err := meltMatrix(sheet)
	if err != nil || rows == nil {
		return err
	}
	source := "Excel/" + sheet.Name
	for _, row := range rows {
		epciID := canonical.Code(row.UnitID)
		indicatorID := canonical.IndicatorID(row.Indicator)
		if epciID == nil || indicatorID == nil {
			continue
		}
		value := store.IndicatorValue{
			EPCIID:      *epciID,
			IndicatorID: *indicatorID,
			Year:        0,
			Value:       canonical.Float(row.Value),
			Source:      &source,
			EPCILabel:   canonical.Text(row.UnitLabel),
		}
		if err := st.UpsertIndicatorValue(ctx, value); err != nil {
			return err
		}
	}
	return nil
}

func buildScoreMatrix(ctx context.Context, st Store, sheet *workbook.Sheet) error {
	rows, err := meltMatrix(sheet)
	if err != nil || rows == nil {
		return err
	}
	for _, row := range rows {
		epciID := canonical.Code(row.UnitID)
		indicatorID := canonical.IndicatorID(row.Indicator)
		if epciID == nil || indicatorID == nil {
			continue
		}
		score := store.IndicatorScore{
			EPCIID:         *epciID,
			IndicatorID:    *indicatorID,
			Year:           0,
			IndicatorScore: canonical.Float(row.Value),
			EPCILabel:      canonical.Text(row.UnitLabel),
		}
		if err := st.UpsertIndicatorScore(ctx, score); err != nil {
			return err
		}
	}
	return nil
}

func meltMatrix(sheet *workbook.Sheet) ([]workbook.LongRow, error) {
	idColumn, err := workbook.DetectUnitIDColumn(sheet)
	if err != nil {
		return nil, err
	}
	labelColumn := workbook.DetectUnitLabelColumn(sheet)
	valueColumns := workbook.DetectIndicatorColumns(sheet)
	if len(valueColumns) == 0 {
		log.Printf("sheet %s: no indicator columns detected, skipping", sheet.Name)
		return nil, nil
	}
	return workbook.Melt(sheet, idColumn, labelColumn, valueColumns), nil
}

func addLink(links map[string]map[string]struct{}, from, to string) {
	if links[from] == nil {
		links[from] = make(map[string]struct{})
	}
	links[from][to] = struct{}{}
}

func sortedKeys(links map[string]map[string]struct{}) []string {
	keys := make([]string, 0, len(links))
	for key := range links {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
