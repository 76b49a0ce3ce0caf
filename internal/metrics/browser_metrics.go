package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	browserCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "browserun",
			Subsystem: "browser",
			Name:      "cpu_percent",
			Help:      "CPU usage of launched browser processes.",
		}, []string{"browser"},
	)
	browserMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "browserun",
			Subsystem: "browser",
			Name:      "memory_mb",
			Help:      "Resident memory of launched browser processes in megabytes.",
		}, []string{"browser"},
	)
)

// Sample is one resource reading for a browser process.
type Sample struct {
	Name       string
	PID        int32
	CPUPercent float64
	MemoryMB   float64
}

// Sampler periodically reads CPU and memory of the processes returned by a
// lookup function and publishes them as gauges.
type Sampler struct {
	interval time.Duration
	pids     func() map[string]int32

	mu   sync.Mutex
	last map[string]Sample

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSampler creates a sampler. interval defaults to 5s.
func NewSampler(interval time.Duration, pids func() map[string]int32) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{interval: interval, pids: pids, last: make(map[string]Sample), stopCh: make(chan struct{})}
}

// Start begins periodic collection until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-t.C:
				s.Collect()
			}
		}
	}()
}

// Stop ends collection and waits for the loop to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect reads every process once.
func (s *Sampler) Collect() {
	current := s.pids()
	out := make(map[string]Sample, len(current))
	for name, pid := range current {
		if pid <= 0 {
			continue
		}
		sm, err := read(name, pid)
		if err != nil {
			slog.Debug("failed to sample browser process", "name", name, "pid", pid, "error", err)
			continue
		}
		out[name] = sm
		if regOK.Load() {
			browserCPUPercent.WithLabelValues(name).Set(sm.CPUPercent)
			browserMemoryMB.WithLabelValues(name).Set(sm.MemoryMB)
		}
	}
	s.mu.Lock()
	for name := range s.last {
		if _, ok := out[name]; !ok && regOK.Load() {
			browserCPUPercent.DeleteLabelValues(name)
			browserMemoryMB.DeleteLabelValues(name)
		}
	}
	s.last = out
	s.mu.Unlock()
}

// Last returns the most recent sample for name.
func (s *Sampler) Last(name string) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.last[name]
	return sm, ok
}

func read(name string, pid int32) (Sample, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return Sample{}, err
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	return Sample{Name: name, PID: pid, CPUPercent: cpu, MemoryMB: float64(mem.RSS) / 1024 / 1024}, nil
}
