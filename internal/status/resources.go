package status

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	footprintEvery = 30 * time.Second
	footprintTrend = 120
)

type rssPoint struct {
	At  time.Time `json:"at"`
	RSS uint64    `json:"rssBytes"`
}

type memoryReport struct {
	SampledAt  time.Time  `json:"sampledAt"`
	RSS        uint64     `json:"rssBytes"`
	PeakRSS    uint64     `json:"peakRssBytes"`
	HeapInUse  uint64     `json:"heapInUseBytes"`
	Goroutines int        `json:"goroutines"`
	Trend      []rssPoint `json:"trend"`
}

// Footprint watches the process memory the way the device firmware watched
// its free heap: a figure per captured frame plus a short trend for the
// status page. A nil *Footprint reports zeros.
type Footprint struct {
	proc *process.Process

	mu    sync.Mutex
	last  memoryReport
	trend []rssPoint
}

// NewFootprint returns nil when the process cannot be inspected.
func NewFootprint() *Footprint {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	return &Footprint{proc: p}
}

// Start records one sample now and then every 30s until ctx is done.
func (f *Footprint) Start(ctx context.Context) {
	if f == nil {
		return
	}
	f.record(ctx)
	go func() {
		ticker := time.NewTicker(footprintEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.record(ctx)
			}
		}
	}()
}

// RSS reads the resident set size now; the capture loop logs it next to
// every frame.
func (f *Footprint) RSS() uint64 {
	if f == nil {
		return 0
	}
	return f.readRSS(context.Background())
}

func (f *Footprint) readRSS(ctx context.Context) uint64 {
	mem, err := f.proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}

func (f *Footprint) record(ctx context.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := time.Now()
	rss := f.readRSS(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	peak := f.last.PeakRSS
	if rss > peak {
		peak = rss
	}
	f.last = memoryReport{
		SampledAt:  now,
		RSS:        rss,
		PeakRSS:    peak,
		HeapInUse:  ms.HeapInuse,
		Goroutines: runtime.NumGoroutine(),
	}
	f.trend = append(f.trend, rssPoint{At: now, RSS: rss})
	if len(f.trend) > footprintTrend {
		f.trend = f.trend[len(f.trend)-footprintTrend:]
	}
}

func (f *Footprint) report() memoryReport {
	if f == nil {
		return memoryReport{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.last
	out.Trend = append([]rssPoint(nil), f.trend...)
	return out
}
