// Package stats tracks processing counters and periodically reports them,
// both as Prometheus metrics and as a throttled structured log line.
// Grounded on original_source/extra_plugins/output/clickhouse/src/stats.cpp
// and the teacher's metrics.go for the Prometheus registration style.
package stats

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// printInterval throttles the structured log line to at most once per
// second, mirroring STATS_PRINT_INTERVAL_SECS.
const printInterval = time.Second

var (
	RecordsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowcol",
		Name:      "records_processed_total",
		Help:      "Total number of data records processed by the pipeline",
	})
	RecordsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowcol",
		Name:      "records_dropped_total",
		Help:      "Total number of data records dropped before reaching a Block",
	})
	RowsWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flowcol",
		Name:      "rows_written_total",
		Help:      "Total number of rows appended to Blocks for insertion (counted before the insert into the remote store)",
	})
	BlockAvailQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowcol",
		Name:      "block_avail_queue_length",
		Help:      "Number of Blocks currently sitting in the avail queue",
	})
	BlockFilledQueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowcol",
		Name:      "block_filled_queue_length",
		Help:      "Number of Blocks currently sitting in the filled queue",
	})
)

// QueueLengths reports the instantaneous length of the avail/filled queues
// so Stats can sample them for both its log line and the gauges above.
type QueueLengths interface {
	AvailLen() int
	FilledLen() int
}

// Stats accumulates processing counters and emits a throttled log line plus
// Prometheus updates, grounded on the Stats class's add_recs/add_rows/
// add_dropped/print_stats_throttled.
type Stats struct {
	log    logr.Logger
	queues QueueLengths

	recordsProcessedTotal     uint64
	recordsProcessedSinceLast uint64
	recordsDroppedTotal       uint64
	rowsWrittenTotal          uint64

	startTime     time.Time
	lastPrintTime time.Time
}

// New constructs a Stats reporter. queues may be nil if queue-length
// sampling isn't available (e.g. in unit tests).
func New(log logr.Logger, queues QueueLengths) *Stats {
	return &Stats{log: log, queues: queues}
}

// AddRecords records count newly processed data records.
func (s *Stats) AddRecords(count uint64) {
	s.recordsProcessedSinceLast += count
	s.recordsProcessedTotal += count
	RecordsProcessedTotal.Add(float64(count))
}

// AddRows records count rows appended to Blocks. The pipeline calls it when
// the rows are appended, not when a worker's insert succeeds, so the total
// includes rows still queued or failing to insert.
func (s *Stats) AddRows(count uint64) {
	s.rowsWrittenTotal += count
	RowsWrittenTotal.Add(float64(count))
}

// AddDropped records count data records dropped before reaching a Block.
func (s *Stats) AddDropped(count uint64) {
	s.recordsDroppedTotal += count
	RecordsDroppedTotal.Add(float64(count))
}

// PrintThrottled logs a summary line at most once per printInterval,
// mirroring print_stats_throttled(now).
func (s *Stats) PrintThrottled(now time.Time) {
	if s.startTime.IsZero() {
		s.startTime = now
	}

	if now.Sub(s.lastPrintTime) <= printInterval {
		return
	}

	totalSecs := now.Sub(s.startTime).Seconds()
	if totalSecs < 1 {
		totalSecs = 1
	}
	sinceLastSecs := now.Sub(s.lastPrintTime).Seconds()
	if s.lastPrintTime.IsZero() || sinceLastSecs < 1 {
		sinceLastSecs = 1
	}

	totalRPS := float64(s.recordsProcessedTotal) / totalSecs
	immediateRPS := float64(s.recordsProcessedSinceLast) / sinceLastSecs

	var availLen, filledLen int
	if s.queues != nil {
		availLen = s.queues.AvailLen()
		filledLen = s.queues.FilledLen()
		BlockAvailQueueLength.Set(float64(availLen))
		BlockFilledQueueLength.Set(float64(filledLen))
	}

	s.log.Info("stats",
		"recordsProcessed", s.recordsProcessedTotal,
		"recordsDropped", s.recordsDroppedTotal,
		"rowsWritten", s.rowsWrittenTotal,
		"avgRecsPerSec", totalRPS,
		"avgImmediateRecsPerSec", immediateRPS,
		"blockAvailQueueLen", availLen,
		"blockFilledQueueLen", filledLen,
	)

	s.recordsProcessedSinceLast = 0
	s.lastPrintTime = now
}
