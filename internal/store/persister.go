package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dylanjitt/auctions/internal/obs"
)

// Start runs the background persister, which mirrors dirty in-memory state
// to disk. Writes are debounced: the loop wakes on the first write
// notification or on the flush ticker, whichever comes first, so a burst of
// bids produces one file write.
func (s *Store) Start(ctx context.Context) {
	go s.persister(ctx)
}

func (s *Store) persister(ctx context.Context) {
	interval := s.flushInterval
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.Flush(); err != nil {
				obs.Logger.Error("store_flush_error", "error", err)
			}
			return
		case <-s.notify:
		case <-ticker.C:
		}
		if err := s.Flush(); err != nil {
			obs.Logger.Error("store_flush_error", "error", err)
		}
	}
}

// Flush writes the current state to disk if anything changed since the last
// flush. The write goes through a temp file and rename, so the document on
// disk is never half-written.
func (s *Store) Flush() error {
	if !s.dirty.Swap(false) {
		return nil
	}
	doc := s.snapshot()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store document: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
