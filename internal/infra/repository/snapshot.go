package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/propdao/propindex/internal/domain"
)

const (
	latestFile  = "latest.json"
	historyFile = "history.json"
)

// SnapshotStore keeps the oracle's durable artifacts as flat JSON
// files: a latest snapshot replaced atomically each cycle and a
// bounded history array. Single writer (the aggregator), many readers.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "snapshot dir create failed")
	}
	return &SnapshotStore{dir: dir}, nil
}

// SaveLatest publishes via write-to-temp-then-rename so readers never
// observe a partial file. The embedded checksum covers the city data.
func (s *SnapshotStore) SaveLatest(ctx context.Context, snap domain.PriceSnapshot) error {
	snap.Checksum = checksum(snap)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "snapshot marshal failed")
	}
	return atomicWrite(filepath.Join(s.dir, latestFile), data)
}

func (s *SnapshotStore) Latest(ctx context.Context) (domain.PriceSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, latestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.PriceSnapshot{}, domain.ErrSnapshotMissing
		}
		return domain.PriceSnapshot{}, errors.Wrap(err, "snapshot read failed")
	}

	var snap domain.PriceSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A torn or corrupt file is treated as not-yet-available
		// rather than served partially.
		return domain.PriceSnapshot{}, domain.ErrSnapshotMissing
	}
	if snap.Checksum != "" && snap.Checksum != checksum(snap) {
		return domain.PriceSnapshot{}, domain.ErrSnapshotMissing
	}
	return snap, nil
}

// AppendHistory adds the entry and trims the log to limit, dropping
// the oldest entries. Stored oldest-first.
func (s *SnapshotStore) AppendHistory(ctx context.Context, entry domain.HistoryEntry, limit int) error {
	entries, err := s.History(ctx)
	if err != nil {
		return err
	}

	entries = append(entries, entry)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "history marshal failed")
	}
	return atomicWrite(filepath.Join(s.dir, historyFile), data)
}

func (s *SnapshotStore) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.HistoryEntry{}, nil
		}
		return nil, errors.Wrap(err, "history read failed")
	}

	var entries []domain.HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "history decode failed")
	}
	return entries, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "temp file create failed")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "temp file write failed")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "temp file close failed")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename failed")
	}
	return nil
}

// checksum fingerprints the snapshot content, checksum field excluded.
func checksum(snap domain.PriceSnapshot) string {
	snap.Checksum = ""
	data, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}
