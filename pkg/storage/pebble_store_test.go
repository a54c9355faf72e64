package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tradeform/pkg/matching"
)

func openTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id, form string, finished time.Time) matching.RunRecord {
	return matching.RunRecord{
		ID:         id,
		FormID:     form,
		Side:       matching.Buy,
		State:      matching.ExhaustedLiquidity,
		Target:     decimal.NewFromInt(10),
		Filled:     decimal.NewFromInt(4),
		Remaining:  decimal.NewFromInt(6),
		Unfilled:   decimal.Zero,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Allocations: []matching.AllocationRecord{
			{Index: 0, Qty: decimal.NewFromInt(4), QuoteQty: decimal.RequireFromString("0.04"), Counterparty: "0x1111111111111111111111111111111111111111", OrderHash: "0xab"},
		},
	}
}

func TestSaveAndLoadRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0).UTC()

	if err := s.SaveRun(ctx, record("r1", "f1", at)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := s.LoadRun(ctx, "r1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if got.State != matching.ExhaustedLiquidity || got.Side != matching.Buy {
		t.Errorf("state/side = %s/%s", got.State, got.Side)
	}
	if !got.Remaining.Equal(decimal.NewFromInt(6)) || len(got.Allocations) != 1 || got.Allocations[0].OrderHash != "0xab" {
		t.Errorf("record = %+v", got)
	}
	if !got.FinishedAt.Equal(at) {
		t.Errorf("finished = %v, want %v", got.FinishedAt, at)
	}

	if _, err := s.LoadRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing run err = %v, want ErrNotFound", err)
	}
}

func TestRecentRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for i, id := range []string{"a", "b", "c", "d"} {
		form := "f1"
		if i%2 == 1 {
			form = "f2"
		}
		if err := s.SaveRun(ctx, record(id, form, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	runs, err := s.RecentRuns(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	want := []string{"d", "c", "b"}
	if len(runs) != len(want) {
		t.Fatalf("got %d runs, want %d", len(runs), len(want))
	}
	for i, id := range want {
		if runs[i].ID != id {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, id)
		}
	}

	all, _ := s.RecentRuns(ctx, 0)
	if len(all) != 4 {
		t.Errorf("unlimited scan returned %d runs, want 4", len(all))
	}

	f2, err := s.FormRuns(ctx, "f2", 10)
	if err != nil {
		t.Fatalf("FormRuns: %v", err)
	}
	if len(f2) != 2 || f2[0].ID != "d" || f2[1].ID != "b" {
		t.Errorf("form runs = %+v", f2)
	}
}
