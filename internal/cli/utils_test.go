package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/search"
)

func sampleResponse() *models.SuggestionResponse {
	return &models.SuggestionResponse{
		Query:      "a quiet harbor",
		QueryTime:  12,
		Total:      2,
		IndexType:  "exact",
		ScoreScale: "cosine",
		Results: []*models.SearchResult{
			{Rank: 1, Score: 0.31, Artwork: &models.Artwork{
				ID: 7, Title: "Harbor at Dusk", People: []string{"A. Painter"},
				Dated: "1890", Culture: "French", ImageURL: "https://img/7.jpg",
			}},
			{Rank: 2, Score: 0.27, Artwork: &models.Artwork{ID: 3, ImageURL: "https://img/3.jpg"}},
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"text", OutputText, false},
		{"", OutputText, false},
		{"JSON", OutputJSON, false},
		{"compact", OutputCompact, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteSuggestions_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSuggestions(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteSuggestions(json): %v", err)
	}
	var decoded models.SuggestionResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "a quiet harbor" || len(decoded.Results) != 2 || decoded.Results[0].Artwork.ID != 7 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteSuggestions_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSuggestions(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Found 2 results in 12ms (index exact, cosine scores)",
		"Rank: 1 | Score: 0.3100 | ID: 7",
		"Title: Harbor at Dusk",
		"People: A. Painter",
		"1890 | French",
		"Image: https://img/3.jpg",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSuggestions_Compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSuggestions(&buf, sampleResponse(), OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "1\t0.3100\t7\tHarbor at Dusk\t") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "(untitled)") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestWriteFindResults(t *testing.T) {
	var buf bytes.Buffer
	results := sampleResponse().Results
	if err := WriteFindResults(&buf, "harbor", results, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `Found 2 catalog matches for "harbor"`) {
		t.Errorf("unexpected output:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteFindResults(&buf, "harbor", nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil || decoded.Total != 0 {
		t.Errorf("decoded = %+v, err %v", decoded, err)
	}
}

func TestWriteStatus(t *testing.T) {
	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	disk := int64(4096)
	status := &StatusReport{
		Engine: &search.Status{
			Loaded: true, Embeddings: 2, CatalogSize: 3, IndexType: "forest",
			ScoreScale: "angular", Dimensions: 512, StorePath: "/data/artworks.dspv",
		},
		LastRun: &models.Run{
			ID: "run-1", Status: models.RunStatusCompleted, StartedAt: finished.Add(-time.Minute),
			FinishedAt: &finished, Total: 3, Embedded: 2, Failed: 1,
		},
		DiskUsageBytes: &disk,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"store_loaded:       true", "index_type:         forest (angular scores)", "disk_usage_bytes:   4096", "embedded:           2 of 3 (1 failed)"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteStatus(&buf, status, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded StatusReport
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Engine == nil || decoded.Engine.Embeddings != 2 || decoded.LastRun.ID != "run-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteRunsAndFailures(t *testing.T) {
	runs := []*models.Run{
		{ID: "b", Status: models.RunStatusFailed, StartedAt: time.Unix(200, 0).UTC(), Total: 5, Error: "embedding call failed"},
		{ID: "a", Status: models.RunStatusCompleted, StartedAt: time.Unix(100, 0).UTC(), Total: 5, Embedded: 5},
	}
	var buf bytes.Buffer
	if err := WriteRuns(&buf, runs, OutputCompact); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "b\t") || !strings.HasSuffix(lines[1], "5/5") {
		t.Errorf("compact runs = %q", lines)
	}

	buf.Reset()
	if err := WriteRuns(&buf, runs, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "error:              embedding call failed") {
		t.Errorf("text runs missing error:\n%s", buf.String())
	}

	buf.Reset()
	failures := []*models.Failure{
		{ArtworkID: 2, Reason: models.FailureReasonStatus, StatusCode: 403, URL: "https://img/2.jpg"},
		{ArtworkID: 9, Reason: models.FailureReasonFetch, URL: "https://img/9.jpg"},
	}
	if err := WriteFailures(&buf, failures, OutputText); err != nil {
		t.Fatal(err)
	}
	want := "2\tstatus\t403\thttps://img/2.jpg\n9\tfetch\t-\thttps://img/9.jpg\n"
	if buf.String() != want {
		t.Errorf("failures = %q, want %q", buf.String(), want)
	}
}
