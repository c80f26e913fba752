package aq

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// BuildTimeseries converts per-sensor raw chunks into a canonical Timeseries:
// chunks are concatenated, the vendor timestamp column becomes "datetime" in
// UTC, exact duplicate rows are dropped, rows are sorted ascending, and rows
// sharing a timestamp (vendor chunk-boundary overlap) are collapsed by
// averaging each numeric field. The synoptic record is attached as metadata
// with its snapshot-only measurement columns stripped.
func BuildTimeseries(meta SynopticRecord, chunks []RawTable, profile VendorProfile) (Timeseries, error) {
	if err := validateTimeseriesMeta(meta); err != nil {
		return Timeseries{}, err
	}

	table := ConcatTables(chunks)
	timeIdx := table.ColumnIndex(profile.TimeColumn)
	if timeIdx < 0 {
		timeIdx = table.ColumnIndex("datetime")
	}
	if timeIdx < 0 && len(table.Rows) > 0 {
		return Timeseries{}, &MissingFieldError{Fields: []string{profile.TimeColumn}}
	}

	meta.Measurements = nil
	ts := Timeseries{Meta: meta}

	for i, col := range table.Columns {
		if i == timeIdx {
			continue
		}
		ts.Fields = append(ts.Fields, col)
	}

	type parsedRow struct {
		t      time.Time
		values []*float64
	}
	var rows []parsedRow

	seen := make(map[string]bool, len(table.Rows))
	for _, raw := range table.Rows {
		key := rowKey(raw)
		if seen[key] {
			continue
		}
		seen[key] = true

		t, ok := parseTimestamp(raw[timeIdx])
		if !ok {
			continue
		}

		values := make([]*float64, 0, len(ts.Fields))
		for i, cell := range raw {
			if i == timeIdx {
				continue
			}
			if f, err := strconv.ParseFloat(cell, 64); err == nil {
				v := f
				values = append(values, &v)
			} else {
				values = append(values, nil)
			}
		}
		rows = append(rows, parsedRow{t: t, values: values})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].t.Before(rows[j].t) })

	// Collapse same-timestamp rows by averaging, so overlapping chunk
	// boundaries never drop data and never violate one-row-per-timestamp.
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].t.Equal(rows[i].t) {
			j++
		}
		merged := rows[i].values
		if j-i > 1 {
			group := make([][]*float64, 0, j-i)
			for k := i; k < j; k++ {
				group = append(group, rows[k].values)
			}
			merged = averageRows(group, len(ts.Fields))
		}
		ts.Times = append(ts.Times, rows[i].t)
		ts.Values = append(ts.Values, merged)
		i = j
	}

	return ts, nil
}

func validateTimeseriesMeta(meta SynopticRecord) error {
	var missing []string
	if meta.DeviceDeploymentID == "" {
		missing = append(missing, "deviceDeploymentID")
	}
	if !ValidCoordinates(meta.Longitude, meta.Latitude) {
		missing = append(missing, "longitude", "latitude")
	}
	if meta.Timezone == "" {
		missing = append(missing, "timezone")
	}
	if len(missing) > 0 {
		return &InvalidTimeseriesError{DeviceID: meta.DeviceID, Missing: missing}
	}
	return nil
}

func averageRows(rows [][]*float64, width int) []*float64 {
	out := make([]*float64, width)
	for col := 0; col < width; col++ {
		var sum float64
		var n int
		for _, r := range rows {
			if col < len(r) && r[col] != nil {
				sum += *r[col]
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			out[col] = &avg
		}
	}
	return out
}

// parseTimestamp accepts epoch seconds or RFC3339.
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Unix(int64(epoch), 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// Window is one sub-range of a chunked history request, half-open [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// SplitWindows divides [start, end) into sub-windows no longer than max.
func SplitWindows(start, end time.Time, max time.Duration) []Window {
	if !start.Before(end) || max <= 0 {
		return nil
	}
	var out []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(max)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}

// FetchChunks downloads every sub-window of a history request. In parallel
// mode the windows are independent scatter-gather tasks; any failure aborts
// the whole build and propagates with the failing window identified, because
// a silently gapped series is worse than an explicit error. In sequential
// mode a delay is inserted between requests to respect vendor rate limits.
func FetchChunks(ctx context.Context, src TimeseriesSource, req TimeseriesRequest, parallel bool, delay time.Duration) ([]RawTable, error) {
	windows := SplitWindows(req.Start, req.End, src.MaxChunk(req.Average))
	if len(windows) == 0 {
		return nil, fmt.Errorf("empty time window %s to %s", req.Start.Format(time.RFC3339), req.End.Format(time.RFC3339))
	}

	chunks := make([]RawTable, len(windows))

	if parallel {
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		for i, w := range windows {
			i, w := i, w
			wg.Add(1)
			go func() {
				defer wg.Done()

				sub := req
				sub.Start, sub.End = w.Start, w.End
				chunk, err := src.FetchTimeseriesChunk(ctx, sub)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = windowError(w, err)
					}
					mu.Unlock()
					return
				}
				mu.Lock()
				chunks[i] = chunk
				mu.Unlock()
			}()
		}
		wg.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
		return chunks, nil
	}

	for i, w := range windows {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		sub := req
		sub.Start, sub.End = w.Start, w.End
		chunk, err := src.FetchTimeseriesChunk(ctx, sub)
		if err != nil {
			return nil, windowError(w, err)
		}
		chunks[i] = chunk
	}
	return chunks, nil
}

func windowError(w Window, err error) error {
	return fmt.Errorf("window %s to %s: %w",
		w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err)
}
