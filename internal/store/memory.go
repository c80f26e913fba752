package store

import (
	"errors"
	"sync"
	"time"

	"github.com/airnet-dev/airquality-pipeline/internal/aq"
)

var (
	// ErrNotFound is returned when no data is available for a given source or
	// sensor.
	ErrNotFound = errors.New("no air quality data for source")
)

// MemoryStore is a concurrency-safe in-memory implementation of
// aq.MonitorStore. Each source holds one growing Monitor, updated by
// replace-on-overlap merges, plus the latest normalized synoptic records for
// metadata joins. Retention trimming happens here, at the application layer;
// the core merge never trims.
type MemoryStore struct {
	mu sync.RWMutex

	monitors map[string]aq.Monitor
	records  map[string]map[string]aq.SynopticRecord // source -> nativeID -> record

	// retention configuration
	maxTimes int           // max number of data rows per monitor
	maxAge   time.Duration // optional max age for data rows
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxTimes is <= 0, it is treated as unlimited.
func NewMemoryStore(maxTimes int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		monitors: make(map[string]aq.Monitor),
		records:  make(map[string]map[string]aq.SynopticRecord),
		maxTimes: maxTimes,
		maxAge:   maxAge,
	}
}

// UpsertMonitor merges an incoming monitor into the source's current one and
// enforces retention.
func (s *MemoryStore) UpsertMonitor(source string, incoming aq.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := incoming
	if existing, ok := s.monitors[source]; ok {
		var err error
		merged, err = aq.MergeMonitors(existing, incoming)
		if err != nil {
			return err
		}
	}

	s.monitors[source] = s.trim(merged)
	return nil
}

// Monitor returns the current assembled Monitor for a source.
func (s *MemoryStore) Monitor(source string) (aq.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monitors[source]
	if !ok {
		return aq.Monitor{}, ErrNotFound
	}
	return m, nil
}

// SaveRecords replaces the source's latest synoptic records.
func (s *MemoryStore) SaveRecords(source string, records []aq.SynopticRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]aq.SynopticRecord, len(records))
	for _, rec := range records {
		byID[rec.NativeID] = rec
	}
	s.records[source] = byID
}

// RecordByNativeID returns the latest synoptic record for a sensor.
func (s *MemoryStore) RecordByNativeID(source, nativeID string) (aq.SynopticRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID, ok := s.records[source]
	if !ok {
		return aq.SynopticRecord{}, ErrNotFound
	}
	rec, ok := byID[nativeID]
	if !ok {
		return aq.SynopticRecord{}, ErrNotFound
	}
	return rec, nil
}

// trim drops the oldest data rows beyond the count and age limits. Metadata
// rows are retained even when all their values scroll away, so a sensor that
// goes quiet is still listed.
func (s *MemoryStore) trim(m aq.Monitor) aq.Monitor {
	start := 0

	if s.maxTimes > 0 && len(m.Data.Times) > s.maxTimes {
		start = len(m.Data.Times) - s.maxTimes
	}

	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		for start < len(m.Data.Times) && m.Data.Times[start].Before(cutoff) {
			start++
		}
	}

	if start > 0 {
		m.Data.Times = m.Data.Times[start:]
		m.Data.Values = m.Data.Values[start:]
	}
	return m
}
