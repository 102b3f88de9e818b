package stats

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Event is anything a producer can feed the aggregator. Producers send
// immutable deltas; only the aggregator holds cumulative state.
type Event interface{ statsEvent() }

// ProgressDelta reports hashes completed by one worker since its last
// report. Sent once per nonce range, not per hash.
type ProgressDelta struct {
	Worker int
	Hashes uint64
}

// ShareResult reports the upstream verdict on one submitted share.
type ShareResult struct {
	Accepted bool
}

// HardwareSnapshot is a point-in-time hardware reading, display only.
type HardwareSnapshot struct {
	CPUPercent   float64
	MemoryUsed   uint64
	TemperatureC float64
	Taken        time.Time
}

func (ProgressDelta) statsEvent()    {}
func (ShareResult) statsEvent()      {}
func (HardwareSnapshot) statsEvent() {}

// Snapshot is a consistent view of the cumulative counters.
type Snapshot struct {
	TotalHashes uint64           `json:"total_hashes"`
	Accepted    uint64           `json:"accepted"`
	Rejected    uint64           `json:"rejected"`
	Hashrate    float64          `json:"hashrate"`
	Hardware    HardwareSnapshot `json:"-"`
	Uptime      time.Duration    `json:"-"`
}

// Config tunes reporting cadence. A non-positive SummaryInterval disables
// the periodic summary line; benchmark mode prints a single final one.
type Config struct {
	Window          time.Duration
	SummaryInterval time.Duration
}

const (
	DefaultWindow   = 60 * time.Second
	BenchmarkWindow = 5 * time.Second

	// eventBuffer keeps Publish effectively non-blocking: events arrive at
	// most once per batch per worker, far below this capacity.
	eventBuffer = 8192

	sampleInterval = time.Second
)

type rateSample struct {
	at     time.Time
	hashes uint64
}

// Aggregator is the single consumer of the mining event stream. It owns all
// cumulative counters; every other component only sends deltas.
type Aggregator struct {
	log *zap.Logger
	cfg Config

	events chan Event

	mu          sync.RWMutex
	totalHashes uint64
	accepted    uint64
	rejected    uint64
	hardware    HardwareSnapshot
	samples     []rateSample
	hashrate    float64
	start       time.Time

	prom *Metrics
}

func NewAggregator(log *zap.Logger, cfg Config) *Aggregator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Aggregator{
		log:    log,
		cfg:    cfg,
		events: make(chan Event, eventBuffer),
		start:  time.Now(),
	}
}

// SetMetrics attaches prometheus collectors updated alongside the counters.
func (a *Aggregator) SetMetrics(m *Metrics) { a.prom = m }

// Publish feeds one event to the aggregator. Progress deltas are never
// dropped; if the buffer is ever full the send waits rather than losing
// counted work.
func (a *Aggregator) Publish(ev Event) {
	a.events <- ev
}

// Run consumes events until ctx is cancelled, sampling the hashrate window
// every second and logging a summary at the configured interval.
func (a *Aggregator) Run(ctx context.Context) error {
	sampler := time.NewTicker(sampleInterval)
	defer sampler.Stop()

	var summary <-chan time.Time
	if a.cfg.SummaryInterval > 0 {
		t := time.NewTicker(a.cfg.SummaryInterval)
		defer t.Stop()
		summary = t.C
	}

	for {
		select {
		case <-ctx.Done():
			a.drain()
			return ctx.Err()
		case ev := <-a.events:
			a.apply(ev)
		case <-sampler.C:
			a.sample(time.Now())
		case <-summary:
			a.LogSummary()
		}
	}
}

// drain applies anything still queued so no progress is lost at shutdown.
func (a *Aggregator) drain() {
	for {
		select {
		case ev := <-a.events:
			a.apply(ev)
		default:
			return
		}
	}
}

func (a *Aggregator) apply(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := ev.(type) {
	case ProgressDelta:
		a.totalHashes += e.Hashes
		if a.prom != nil {
			a.prom.Hashes.Add(float64(e.Hashes))
		}
	case ShareResult:
		if e.Accepted {
			a.accepted++
		} else {
			a.rejected++
		}
		if a.prom != nil {
			a.prom.Shares.WithLabelValues(shareLabel(e.Accepted)).Inc()
		}
	case HardwareSnapshot:
		a.hardware = e
	}
}

// sample appends a cumulative-hash observation and recomputes the smoothed
// hashrate as the mean of per-interval rates across the window.
func (a *Aggregator) sample(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, rateSample{at: now, hashes: a.totalHashes})
	cutoff := now.Add(-a.cfg.Window)
	for len(a.samples) > 1 && a.samples[0].at.Before(cutoff) {
		a.samples = a.samples[1:]
	}
	if len(a.samples) < 2 {
		return
	}

	rates := make([]float64, 0, len(a.samples)-1)
	for i := 1; i < len(a.samples); i++ {
		dt := a.samples[i].at.Sub(a.samples[i-1].at).Seconds()
		if dt <= 0 {
			continue
		}
		rates = append(rates, float64(a.samples[i].hashes-a.samples[i-1].hashes)/dt)
	}
	if len(rates) == 0 {
		return
	}
	a.hashrate = stat.Mean(rates, nil)
	if a.prom != nil {
		a.prom.Hashrate.Set(a.hashrate)
	}
}

// Snapshot returns the current cumulative view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		TotalHashes: a.totalHashes,
		Accepted:    a.accepted,
		Rejected:    a.rejected,
		Hashrate:    a.hashrate,
		Hardware:    a.hardware,
		Uptime:      time.Since(a.start),
	}
}

// LogSummary emits one summary line combining mining and hardware state.
func (a *Aggregator) LogSummary() {
	s := a.Snapshot()
	a.log.Info("mining summary",
		zap.Float64("hashrate_hs", s.Hashrate),
		zap.String("total_hashes", humanize.Comma(int64(s.TotalHashes))),
		zap.Uint64("accepted", s.Accepted),
		zap.Uint64("rejected", s.Rejected),
		zap.Float64("cpu_pct", s.Hardware.CPUPercent),
		zap.String("mem_used", humanize.IBytes(s.Hardware.MemoryUsed)),
		zap.Float64("temp_c", s.Hardware.TemperatureC),
	)
}

func shareLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}
