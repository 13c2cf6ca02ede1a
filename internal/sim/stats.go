package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Stats accumulates counters from every actor in a run. All methods are
// safe for concurrent use.
type Stats struct {
	mu             sync.Mutex
	salesStarted   int
	salesEnded     int
	buyAttempts    int
	buyOK          int
	buyRefused     int
	errors         int
	broadcastsSeen int
}

// NewStats returns an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// SaleStarted records one opened sale.
func (s *Stats) SaleStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salesStarted++
}

// SalesEnded records n sales force-closed by their seller.
func (s *Stats) SalesEnded(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.salesEnded += n
}

// BuyResult records one completed purchase round trip.
func (s *Stats) BuyResult(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyAttempts++
	if ok {
		s.buyOK++
	} else {
		s.buyRefused++
	}
}

// Error records a failed connect or request.
func (s *Stats) Error() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors++
}

// Broadcast records one frame received off an actor's broadcast stream.
func (s *Stats) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastsSeen++
}

// Report is the JSON summary written at the end of a run.
type Report struct {
	Duration       string    `json:"duration"`
	SalesStarted   int       `json:"salesStarted"`
	SalesEnded     int       `json:"salesEnded"`
	BuyAttempts    int       `json:"buyAttempts"`
	BuyOK          int       `json:"buyOk"`
	BuyRefused     int       `json:"buyRefused"`
	Errors         int       `json:"errors"`
	BroadcastsSeen int       `json:"broadcastsSeen"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// Report snapshots the counters into a summary for the given elapsed time.
func (s *Stats) Report(elapsed time.Duration) Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{
		Duration:       elapsed.Round(time.Millisecond).String(),
		SalesStarted:   s.salesStarted,
		SalesEnded:     s.salesEnded,
		BuyAttempts:    s.buyAttempts,
		BuyOK:          s.buyOK,
		BuyRefused:     s.buyRefused,
		Errors:         s.errors,
		BroadcastsSeen: s.broadcastsSeen,
		GeneratedAt:    time.Now(),
	}
}

// WriteReport persists the report with atomic file replacement (write to
// .tmp, then rename) so an interrupted run never leaves a partial file.
func WriteReport(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return os.Rename(tmp, path)
}
