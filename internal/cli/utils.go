// Package cli provides output formatting for the dispict command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/search"
	"github.com/hyperjump/dispict/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one result per line.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

const separator = "─────────────────────────────────────────────────────────"

// WriteSuggestions writes a suggestion response to w in the given format.
func WriteSuggestions(w io.Writer, response *models.SuggestionResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			writeCompact(w, r)
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d results in %dms (index %s, %s scores)\n\n",
			len(response.Results), response.QueryTime, response.IndexType, response.ScoreScale)
		for _, r := range response.Results {
			writeOneResult(w, r)
		}
		return nil
	}
}

// WriteFindResults writes keyword search results to w in the given format.
func WriteFindResults(w io.Writer, query string, results []*models.SearchResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, map[string]interface{}{
			"query":   query,
			"results": results,
			"total":   len(results),
		})
	case OutputCompact:
		for _, r := range results {
			writeCompact(w, r)
		}
		return nil
	default:
		fmt.Fprintf(w, "\nFound %d catalog matches for %q\n\n", len(results), query)
		for _, r := range results {
			writeOneResult(w, r)
		}
		return nil
	}
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	a := result.Artwork
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | ID: %d\n", result.Rank, result.Score, a.ID)
	if a.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", a.Title)
	}
	if len(a.People) > 0 {
		fmt.Fprintf(w, "People: %s\n", strings.Join(a.People, "; "))
	}
	if meta := utils.JoinNonEmpty(" | ", a.Dated, a.Culture, a.Classification, a.Medium); meta != "" {
		fmt.Fprintf(w, "%s\n", meta)
	}
	if a.Description != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(a.Description, 200))
	}
	fmt.Fprintf(w, "Image: %s\n", a.ImageURL)
	fmt.Fprintln(w)
}

func writeCompact(w io.Writer, result *models.SearchResult) {
	a := result.Artwork
	title := a.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "%d\t%.4f\t%d\t%s\t%s\n", result.Rank, result.Score, a.ID, utils.Truncate(title, 60), a.ImageURL)
}

// StatusReport is the shape of GET /api/v1/status.
type StatusReport struct {
	Engine         *search.Status         `json:"engine"`
	LastRun        *models.Run            `json:"last_run,omitempty"`
	DiskUsageBytes *int64                 `json:"disk_usage_bytes,omitempty"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes a status report to w. Compact is treated as text.
func WriteStatus(w io.Writer, status *StatusReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	if e := status.Engine; e != nil {
		fmt.Fprintf(w, "store_loaded:       %t\n", e.Loaded)
		fmt.Fprintf(w, "embeddings:         %d   # rows in the vector store\n", e.Embeddings)
		fmt.Fprintf(w, "catalog_size:       %d   # artworks in the catalog\n", e.CatalogSize)
		if e.Loaded {
			fmt.Fprintf(w, "index_type:         %s (%s scores)\n", e.IndexType, e.ScoreScale)
			fmt.Fprintf(w, "store_path:         %s\n", e.StorePath)
			fmt.Fprintf(w, "loaded_at:          %s\n", e.LoadedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(w, "dimensions:         %d\n", e.Dimensions)
	}
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # store + ledger + keyword index on disk\n", *status.DiskUsageBytes)
	}
	if status.LastRun != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# last run")
		writeRunText(w, status.LastRun)
	}
	return nil
}

// WriteRuns writes ledger runs to w in the given format.
func WriteRuns(w io.Writer, runs []*models.Run, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, map[string]interface{}{"runs": runs})
	case OutputCompact:
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Status, r.Embedded, r.Total)
		}
		return nil
	default:
		for i, r := range runs {
			if i > 0 {
				fmt.Fprintln(w, separator)
			}
			writeRunText(w, r)
		}
		return nil
	}
}

func writeRunText(w io.Writer, r *models.Run) {
	fmt.Fprintf(w, "run_id:             %s\n", r.ID)
	fmt.Fprintf(w, "status:             %s\n", r.Status)
	fmt.Fprintf(w, "started_at:         %s\n", r.StartedAt.Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(w, "finished_at:        %s\n", r.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "embedded:           %d of %d (%d failed)\n", r.Embedded, r.Total, r.Failed)
	if r.StorePath != "" {
		fmt.Fprintf(w, "store_path:         %s\n", r.StorePath)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "error:              %s\n", r.Error)
	}
}

// WriteFailures writes the failed items of a run to w in the given format.
func WriteFailures(w io.Writer, failures []*models.Failure, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"failures": failures})
	}
	for _, f := range failures {
		code := "-"
		if f.StatusCode != 0 {
			code = fmt.Sprint(f.StatusCode)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.ArtworkID, f.Reason, code, f.URL)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
