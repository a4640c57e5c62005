package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"diag360/api/internal/canonical"
)

// JSONProducer pulls one indicator from an open-data JSON endpoint. The
// endpoint is expected to answer with rows under "results", each carrying the
// EPCI id under "id_epci" or "siren" and the measure under "value". Most
// government APIs in scope fit this shape with at most a URL template change.
type JSONProducer struct {
	Indicator string
	URL       string
	Year      int
	Unit      string
	Source    string

	Client *http.Client
}

func (p *JSONProducer) IndicatorID() string {
	return p.Indicator
}

func (p *JSONProducer) Fetch(ctx context.Context) ([]RawValue, error) {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", p.URL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", p.URL, resp.StatusCode)
	}

	var payload struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.URL, err)
	}

	rows := make([]RawValue, 0, len(payload.Results))
	for _, result := range payload.Results {
		epciID := stringField(result, "id_epci")
		if epciID == "" {
			epciID = stringField(result, "siren")
		}
		code := canonical.Code(epciID)
		if code == nil {
			continue
		}
		row := RawValue{
			EPCIID:      *code,
			IndicatorID: p.Indicator,
			Year:        p.Year,
			Value:       numberField(result, "value"),
			Unit:        p.Unit,
			Source:      p.Source,
		}
		if unit := stringField(result, "unit"); unit != "" {
			row.Unit = unit
		}
		if source := stringField(result, "source"); source != "" {
			row.Source = source
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stringField(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(row map[string]any, key string) *float64 {
	switch v := row[key].(type) {
	case float64:
		return &v
	case string:
		return canonical.Float(v)
	default:
		return nil
	}
}
