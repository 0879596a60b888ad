package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/dispict/internal/models"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestSQLiteLedger_RunLifecycle(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.LastRun(ctx); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("empty ledger LastRun err = %v, want ErrRunNotFound", err)
	}

	started := time.Now().Add(-time.Minute)
	run := &models.Run{
		ID:        "run-1",
		StartedAt: started,
		Status:    models.RunStatusRunning,
		Total:     3,
		StorePath: "/data/embeddings.dspv",
	}
	if err := ledger.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	run.Status = models.RunStatusCompleted
	run.Embedded = 2
	run.Failed = 1
	if err := ledger.FinishRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := ledger.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "run-1" || got.Status != models.RunStatusCompleted {
		t.Errorf("got %+v", got)
	}
	if got.Total != 3 || got.Embedded != 2 || got.Failed != 1 {
		t.Errorf("counts = %d/%d/%d", got.Total, got.Embedded, got.Failed)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
	if got.StorePath != "/data/embeddings.dspv" {
		t.Errorf("StorePath = %q", got.StorePath)
	}
}

func TestSQLiteLedger_FinishUnknownRun(t *testing.T) {
	ledger := newTestLedger(t)
	err := ledger.FinishRun(context.Background(), &models.Run{ID: "ghost", Status: models.RunStatusFailed})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestSQLiteLedger_Failures(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	if err := ledger.CreateRun(ctx, &models.Run{ID: "r", StartedAt: time.Now(), Status: models.RunStatusRunning}); err != nil {
		t.Fatal(err)
	}

	failures := []*models.Failure{
		{RunID: "r", ArtworkID: 30, URL: "https://img/30.jpg", StatusCode: 404, Reason: models.FailureReasonStatus},
		{RunID: "r", ArtworkID: 12, URL: "https://img/12.jpg", StatusCode: 200, Reason: models.FailureReasonDecode, Detail: "unknown format"},
	}
	if err := ledger.RecordFailures(ctx, failures); err != nil {
		t.Fatal(err)
	}
	if err := ledger.RecordFailures(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	count, err := ledger.CountFailures(ctx, "r")
	if err != nil || count != 2 {
		t.Fatalf("CountFailures = %d, %v", count, err)
	}
	got, err := ledger.ListFailures(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ArtworkID != 12 || got[1].ArtworkID != 30 {
		t.Fatalf("ListFailures = %+v", got)
	}
	if got[0].Reason != models.FailureReasonDecode || got[0].Detail != "unknown format" {
		t.Errorf("decode failure = %+v", got[0])
	}
	if got[1].StatusCode != 404 {
		t.Errorf("status = %d, want 404", got[1].StatusCode)
	}

	if other, _ := ledger.ListFailures(ctx, "other"); len(other) != 0 {
		t.Errorf("unrelated run has %d failures", len(other))
	}
}

func TestSQLiteLedger_ListRuns(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		run := &models.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), Status: models.RunStatusRunning}
		if err := ledger.CreateRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := ledger.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns = %v", runs)
	}
}

func TestSQLiteLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ledger, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.CreateRun(context.Background(), &models.Run{ID: "keep", StartedAt: time.Now(), Status: models.RunStatusRunning}); err != nil {
		t.Fatal(err)
	}
	ledger.Close()

	reopened, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	run, err := reopened.LastRun(context.Background())
	if err != nil || run.ID != "keep" {
		t.Errorf("LastRun after reopen = %+v, %v", run, err)
	}
}
