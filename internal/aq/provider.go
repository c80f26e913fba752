package aq

import (
	"context"
	"time"
)

// SynopticSource fetches a current all-sensors snapshot from one vendor.
type SynopticSource interface {
	Name() string
	Profile() VendorProfile
	FetchSynoptic(ctx context.Context) (SynopticBundle, error)
}

// TimeseriesRequest describes one sensor's history fetch. Start/End are a
// half-open UTC window; Average is the vendor averaging period in minutes
// (0 = raw samples).
type TimeseriesRequest struct {
	NativeID string
	Start    time.Time
	End      time.Time
	Average  int
	Fields   []string
}

// TimeseriesSource fetches one sensor's history, one sub-window at a time.
// MaxChunk reports the vendor's per-request window limit for a given
// averaging period, which the chunk splitter honors.
type TimeseriesSource interface {
	Name() string
	Profile() VendorProfile
	MaxChunk(average int) time.Duration
	FetchTimeseriesChunk(ctx context.Context, req TimeseriesRequest) (RawTable, error)
}

// MonitorStore is the contract the in-memory store (and any future
// persistent store) must satisfy.
type MonitorStore interface {
	UpsertMonitor(source string, incoming Monitor) error
	Monitor(source string) (Monitor, error)
	SaveRecords(source string, records []SynopticRecord)
	RecordByNativeID(source, nativeID string) (SynopticRecord, error)
}

// Publisher pushes assembled monitor updates to downstream consumers.
type Publisher interface {
	PublishReadings(ctx context.Context, source string, m Monitor) error
}
