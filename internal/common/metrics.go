package common

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
)

// Metrics counts corpus work. It is safe for concurrent use by workers.
type Metrics struct {
	mu         sync.Mutex
	start      time.Time
	end        time.Time
	files      int64
	totalFiles int64
	cases      int64
	bytes      int64
	drifted    int64
	orphaned   int64
	failed     int64
	written    int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Start() {
	m.mu.Lock()
	if m.start.IsZero() {
		m.start = time.Now()
		m.end = time.Time{}
	}
	m.mu.Unlock()
}

func (m *Metrics) Stop() {
	m.mu.Lock()
	if !m.start.IsZero() && m.end.IsZero() {
		m.end = time.Now()
	}
	m.mu.Unlock()
}

func (m *Metrics) SetTotalFiles(total int64) {
	if total < 0 {
		total = 0
	}
	m.mu.Lock()
	m.totalFiles = total
	m.mu.Unlock()
}

// AddFile records one processed file of size bytes.
func (m *Metrics) AddFile(size int64) {
	m.mu.Lock()
	m.files++
	if size > 0 {
		m.bytes += size
	}
	m.mu.Unlock()
}

func (m *Metrics) AddCases(n int64) {
	m.add(&m.cases, n)
}

func (m *Metrics) AddDrifted(n int64) {
	m.add(&m.drifted, n)
}

func (m *Metrics) AddOrphaned(n int64) {
	m.add(&m.orphaned, n)
}

func (m *Metrics) AddFailed(n int64) {
	m.add(&m.failed, n)
}

func (m *Metrics) IncWritten() {
	m.add(&m.written, 1)
}

func (m *Metrics) add(field *int64, n int64) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	*field += n
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Duration:   m.elapsedLocked(),
		Files:      m.files,
		TotalFiles: m.totalFiles,
		Cases:      m.cases,
		Bytes:      m.bytes,
		Drifted:    m.drifted,
		Orphaned:   m.orphaned,
		Failed:     m.failed,
		Written:    m.written,
	}
}

func (m *Metrics) elapsedLocked() time.Duration {
	if m.start.IsZero() {
		return 0
	}
	if !m.end.IsZero() {
		return m.end.Sub(m.start)
	}
	return time.Since(m.start)
}

type MetricsSnapshot struct {
	Duration   time.Duration
	Files      int64
	TotalFiles int64
	Cases      int64
	Bytes      int64
	Drifted    int64
	Orphaned   int64
	Failed     int64
	Written    int64
}

func (s MetricsSnapshot) FilesPerSecond() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Files) / s.Duration.Seconds()
}

func (s MetricsSnapshot) Completion() float64 {
	if s.TotalFiles <= 0 {
		return 0
	}
	ratio := float64(s.Files) / float64(s.TotalFiles)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div := float64(unit)
	exp := 0
	for n := float64(b) / div; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	prefixes := []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
	return fmt.Sprintf("%.2f %s", float64(b)/div, prefixes[exp])
}

func formatProgressLine(s MetricsSnapshot) string {
	if s.TotalFiles > 0 {
		pct := s.Completion() * 100
		if math.IsNaN(pct) || math.IsInf(pct, 0) {
			pct = 0
		}
		return fmt.Sprintf("Progress: %6.2f%% (%d / %d files, %d cases) %.1f files/s",
			pct, s.Files, s.TotalFiles, s.Cases, s.FilesPerSecond())
	}
	return fmt.Sprintf("Processed: %d files (%s) %.1f files/s", s.Files, FormatBytes(s.Bytes), s.FilesPerSecond())
}

func StartProgressPrinter(w io.Writer, m *Metrics, interval time.Duration) func() {
	if m == nil || w == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastLen := 0
		for {
			select {
			case <-ticker.C:
				line := formatProgressLine(m.Snapshot())
				pad := lastLen - len(line)
				if pad > 0 {
					line += strings.Repeat(" ", pad)
				}
				fmt.Fprintf(w, "\r%s", line)
				lastLen = len(line)
			case <-done:
				if lastLen > 0 {
					fmt.Fprintf(w, "\r%s\r\n", strings.Repeat(" ", lastLen))
				}
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
