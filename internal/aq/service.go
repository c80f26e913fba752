package aq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/airnet-dev/airquality-pipeline/internal/spatial"
)

// ServiceConfig tunes the orchestration layer.
type ServiceConfig struct {
	// Parameter selects the data matrix for monitor assembly. Default "pm2.5".
	Parameter string
	// ApplyQCMask enables QC-flag masking during assembly.
	ApplyQCMask bool
	// StateCodes/Counties are optional normalizer scoping hints.
	StateCodes []string
	Counties   []string
	// ParallelChunks dispatches history sub-windows concurrently; otherwise
	// they run sequentially with RequestDelay between requests.
	ParallelChunks bool
	RequestDelay   time.Duration
	// HistoryFields is the column list requested for sensor histories.
	HistoryFields []string
}

// Service orchestrates the fetch -> normalize+enrich -> assemble pipeline and
// persists the results. Failures in one synoptic source are logged and
// skipped so the remaining sources still refresh; within one source the
// phases are strictly sequential and fail-fast.
type Service struct {
	store     MonitorStore
	enricher  *spatial.Enricher
	synoptic  []SynopticSource
	history   TimeseriesSource
	publisher Publisher
	cfg       ServiceConfig
}

// NewService creates a Service. publisher may be nil.
func NewService(store MonitorStore, enricher *spatial.Enricher, synoptic []SynopticSource, history TimeseriesSource, publisher Publisher, cfg ServiceConfig) *Service {
	if cfg.Parameter == "" {
		cfg.Parameter = "pm2.5"
	}
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = 500 * time.Millisecond
	}
	return &Service{
		store:     store,
		enricher:  enricher,
		synoptic:  synoptic,
		history:   history,
		publisher: publisher,
		cfg:       cfg,
	}
}

// RefreshSynoptic runs one full pipeline pass for every configured source and
// merges the resulting monitors into the store.
func (s *Service) RefreshSynoptic(ctx context.Context) error {
	if len(s.synoptic) == 0 {
		return fmt.Errorf("no synoptic sources configured")
	}

	for _, src := range s.synoptic {
		if err := s.refreshSource(ctx, src); err != nil {
			var empty *EmptyResultError
			if errors.As(err, &empty) {
				log.Printf("source %s returned no sensors; keeping current monitor", src.Name())
				continue
			}
			log.Printf("source %s refresh failed: %v", src.Name(), err)
		}
	}
	return nil
}

func (s *Service) refreshSource(ctx context.Context, src SynopticSource) error {
	bundle, err := src.FetchSynoptic(ctx)
	if err != nil {
		return err
	}

	records, err := NormalizeSynoptic(bundle.Synoptic, src.Profile(), s.enricher, SynopticOptions{
		StateCodes: s.cfg.StateCodes,
		Counties:   s.cfg.Counties,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return &EmptyResultError{Vendor: src.Name()}
	}

	matrices := FilterMatrices(bundle.Matrices, records)
	monitor, err := AssembleFromSynoptic(records, matrices, AssembleOptions{
		Parameter:   s.cfg.Parameter,
		ApplyQCMask: s.cfg.ApplyQCMask,
	})
	if err != nil {
		return err
	}

	s.store.SaveRecords(src.Name(), records)
	if err := s.store.UpsertMonitor(src.Name(), monitor); err != nil {
		return err
	}
	log.Printf("source %s: %d deployments, %d timestamps merged", src.Name(), len(monitor.Meta), len(monitor.Data.Times))

	if s.publisher != nil {
		if err := s.publisher.PublishReadings(ctx, src.Name(), monitor); err != nil {
			// Publishing is best-effort; the store already holds the data.
			log.Printf("source %s: publish failed: %v", src.Name(), err)
		}
	}
	return nil
}

// Monitor returns the current assembled Monitor for a source.
func (s *Service) Monitor(source string) (Monitor, error) {
	return s.store.Monitor(source)
}

// MonitorWindow returns the source's Monitor restricted to timestamps within
// [from, to] inclusive. Metadata is unchanged.
func (s *Service) MonitorWindow(source string, from, to time.Time) (Monitor, error) {
	m, err := s.store.Monitor(source)
	if err != nil {
		return Monitor{}, err
	}

	out := Monitor{Meta: m.Meta}
	for i, t := range m.Data.Times {
		if t.Before(from) || t.After(to) {
			continue
		}
		out.Data.Times = append(out.Data.Times, t)
		out.Data.Values = append(out.Data.Values, m.Data.Values[i])
	}
	return out, nil
}

// SensorTimeseries fetches, normalizes, and optionally corrects one sensor's
// history. The sensor must be present in the most recent synoptic snapshot so
// its metadata can be attached.
func (s *Service) SensorTimeseries(ctx context.Context, nativeID string, start, end time.Time, average int, correction CorrectionName) (Timeseries, error) {
	if s.history == nil {
		return Timeseries{}, fmt.Errorf("no timeseries source configured")
	}

	meta, err := s.store.RecordByNativeID(s.history.Name(), nativeID)
	if err != nil {
		return Timeseries{}, err
	}

	req := TimeseriesRequest{
		NativeID: nativeID,
		Start:    start,
		End:      end,
		Average:  average,
		Fields:   s.cfg.HistoryFields,
	}
	chunks, err := FetchChunks(ctx, s.history, req, s.cfg.ParallelChunks, s.cfg.RequestDelay)
	if err != nil {
		return Timeseries{}, err
	}

	ts, err := BuildTimeseries(meta, chunks, s.history.Profile())
	if err != nil {
		return Timeseries{}, err
	}

	if correction != "" {
		return ApplyCorrection(ts, correction)
	}
	return ts, nil
}
