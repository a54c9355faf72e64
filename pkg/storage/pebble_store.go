package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/tradeform/pkg/matching"
)

var ErrNotFound = errors.New("run not found")

// PebbleStore journals matching runs.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveRun writes a run and its time indexes atomically.
func (s *PebbleStore) SaveRun(_ context.Context, rec matching.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(runKey(rec.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(runTimeKey(rec.FinishedAt, rec.ID), []byte(rec.ID), nil); err != nil {
		return err
	}
	if rec.FormID != "" {
		if err := b.Set(formRunKey(rec.FormID, rec.FinishedAt, rec.ID), []byte(rec.ID), nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func (s *PebbleStore) LoadRun(_ context.Context, id string) (matching.RunRecord, error) {
	data, closer, err := s.db.Get(runKey(id))
	if err == pebble.ErrNotFound {
		return matching.RunRecord{}, ErrNotFound
	}
	if err != nil {
		return matching.RunRecord{}, fmt.Errorf("failed to get run: %w", err)
	}
	defer closer.Close()

	var rec matching.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return matching.RunRecord{}, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return rec, nil
}

// RecentRuns returns up to limit runs, most recently finished first.
func (s *PebbleStore) RecentRuns(ctx context.Context, limit int) ([]matching.RunRecord, error) {
	return s.scanNewest(ctx, []byte(prefixRunTime), limit)
}

// FormRuns is RecentRuns restricted to one form session.
func (s *PebbleStore) FormRuns(ctx context.Context, formID string, limit int) ([]matching.RunRecord, error) {
	return s.scanNewest(ctx, formRunPrefix(formID), limit)
}

func (s *PebbleStore) scanNewest(ctx context.Context, prefix []byte, limit int) ([]matching.RunRecord, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var runs []matching.RunRecord
	for iter.Last(); iter.Valid() && (limit <= 0 || len(runs) < limit); iter.Prev() {
		rec, err := s.LoadRun(ctx, string(iter.Value()))
		if err != nil {
			continue
		}
		runs = append(runs, rec)
	}
	return runs, iter.Error()
}

var _ matching.Journal = (*PebbleStore)(nil)
