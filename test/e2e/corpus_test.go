package e2e

import (
	"io"
	"net/http"
	"testing"
)

func TestBuildCorpus(t *testing.T) {
	c := BuildCorpus(corpusSize)
	if len(c.Artworks) != corpusSize {
		t.Fatalf("artworks = %d, want %d", len(c.Artworks), corpusSize)
	}
	seen := make(map[Outcome]int)
	colors := make(map[[3]uint8]bool)
	for _, a := range c.Artworks {
		seen[c.Outcomes[a.ID]]++
		sw := c.Swatches[a.ID]
		key := [3]uint8{sw.R, sw.G, sw.B}
		if colors[key] {
			t.Errorf("artwork %d reuses color %v", a.ID, key)
		}
		colors[key] = true
	}
	for _, o := range []Outcome{OutcomeOK, OutcomeForbidden, OutcomeNotFound, OutcomeGarbage, OutcomeFlaky} {
		if seen[o] == 0 {
			t.Errorf("outcome %d not represented", o)
		}
	}
	if got, want := len(c.Embedded()), seen[OutcomeOK]+seen[OutcomeFlaky]; got != want {
		t.Errorf("Embedded() = %d, want %d", got, want)
	}
}

func TestCorpusServe(t *testing.T) {
	c := BuildCorpus(12)
	ts := c.Serve()
	defer ts.Close()

	status := func(url string) int {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}

	for _, a := range c.Artworks {
		switch c.Outcomes[a.ID] {
		case OutcomeOK, OutcomeGarbage:
			if got := status(a.ImageURL); got != http.StatusOK {
				t.Errorf("artwork %d: status %d, want 200", a.ID, got)
			}
		case OutcomeForbidden:
			if got := status(a.ImageURL); got != http.StatusForbidden {
				t.Errorf("artwork %d: status %d, want 403", a.ID, got)
			}
		case OutcomeNotFound:
			if got := status(a.ImageURL); got != http.StatusNotFound {
				t.Errorf("artwork %d: status %d, want 404", a.ID, got)
			}
		case OutcomeFlaky:
			if got := status(a.ImageURL); got != http.StatusServiceUnavailable {
				t.Errorf("artwork %d: first status %d, want 503", a.ID, got)
			}
			if got := status(a.ImageURL); got != http.StatusOK {
				t.Errorf("artwork %d: second status %d, want 200", a.ID, got)
			}
		}
	}
}
