package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"diag360/api/internal/store"
)

func newTestServer(fake *fakeStore) *httptest.Server {
	service := NewService(fake)
	return httptest.NewServer(NewHTTPServer(service, "*").Handler())
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, payload
}

func TestHealth(t *testing.T) {
	server := newTestServer(&fakeStore{summaries: map[string]store.ScoreSummary{}})
	defer server.Close()

	status, payload := getJSON(t, server.URL+"/api/health")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if payload["ok"] != true {
		t.Errorf("ok = %v", payload["ok"])
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fake := &fakeStore{summaries: map[string]store.ScoreSummary{}, pingErr: errTest}
	server := newTestServer(fake)
	defer server.Close()

	status, payload := getJSON(t, server.URL+"/api/ready")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	if payload["status"] != "not_ready" {
		t.Errorf("status payload = %v", payload["status"])
	}
}

var errTest = &DomainError{Status: 500, Code: "TEST", Message: "boom"}

func TestListScoresValidation(t *testing.T) {
	server := newTestServer(&fakeStore{summaries: map[string]store.ScoreSummary{}})
	defer server.Close()

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"default", "", http.StatusOK},
		{"bad limit", "?limit=abc", http.StatusUnprocessableEntity},
		{"zero limit", "?limit=0", http.StatusUnprocessableEntity},
		{"clamped limit", "?limit=999999", http.StatusOK},
		{"negative offset", "?offset=-1", http.StatusUnprocessableEntity},
		{"bad order", "?order_by=rank", http.StatusUnprocessableEntity},
		{"good order", "?order_by=score", http.StatusOK},
		{"bad year", "?year=deux", http.StatusUnprocessableEntity},
		{"short search", "?search=a", http.StatusUnprocessableEntity},
		{"good search", "?search=ba", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := getJSON(t, server.URL+"/api/scores"+tc.query)
			if status != tc.want {
				t.Errorf("status = %d, want %d", status, tc.want)
			}
		})
	}
}

func TestListScoresClampsLimit(t *testing.T) {
	fake := &fakeStore{summaries: map[string]store.ScoreSummary{}}
	server := newTestServer(fake)
	defer server.Close()

	status, _ := getJSON(t, server.URL+"/api/scores?limit=999999")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if fake.lastListLimit != maxLimit {
		t.Errorf("limit = %d, want %d", fake.lastListLimit, maxLimit)
	}
}

func TestScoreDetailNotFoundHTTP(t *testing.T) {
	server := newTestServer(&fakeStore{latestYear: 2023, summaries: map[string]store.ScoreSummary{}})
	defer server.Close()

	status, payload := getJSON(t, server.URL+"/api/scores/999999999")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestScoreDetailFound(t *testing.T) {
	fake := &fakeStore{
		latestYear: 2023,
		summaries: map[string]store.ScoreSummary{
			"200000172": {EPCIID: "200000172", EPCILabel: "CA du Bassin", IndicatorCount: 1},
		},
	}
	server := newTestServer(fake)
	defer server.Close()

	status, payload := getJSON(t, server.URL+"/api/scores/200000172")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	summary := payload["summary"].(map[string]any)
	if summary["libelle_epci"] != "CA du Bassin" {
		t.Errorf("summary = %v", summary)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(&fakeStore{summaries: map[string]store.ScoreSummary{}})
	defer server.Close()

	status, _ := getJSON(t, server.URL+"/api/unknown")
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(&fakeStore{summaries: map[string]store.ScoreSummary{}})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/scores", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
