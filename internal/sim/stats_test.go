package sim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStatsReport(t *testing.T) {
	t.Parallel()
	s := NewStats()

	s.SaleStarted()
	s.SaleStarted()
	s.SalesEnded(3)
	s.BuyResult(true)
	s.BuyResult(true)
	s.BuyResult(false)
	s.Error()
	s.Broadcast()
	s.Broadcast()

	r := s.Report(1500 * time.Millisecond)
	if r.SalesStarted != 2 {
		t.Errorf("SalesStarted = %d, want 2", r.SalesStarted)
	}
	if r.SalesEnded != 3 {
		t.Errorf("SalesEnded = %d, want 3", r.SalesEnded)
	}
	if r.BuyAttempts != 3 || r.BuyOK != 2 || r.BuyRefused != 1 {
		t.Errorf("buys = %d/%d/%d, want 3/2/1", r.BuyAttempts, r.BuyOK, r.BuyRefused)
	}
	if r.Errors != 1 {
		t.Errorf("Errors = %d, want 1", r.Errors)
	}
	if r.BroadcastsSeen != 2 {
		t.Errorf("BroadcastsSeen = %d, want 2", r.BroadcastsSeen)
	}
	if r.Duration != "1.5s" {
		t.Errorf("Duration = %q, want 1.5s", r.Duration)
	}
	if r.GeneratedAt.IsZero() {
		t.Error("GeneratedAt not set")
	}
}

func TestStatsConcurrent(t *testing.T) {
	t.Parallel()
	s := NewStats()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.BuyResult(j%2 == 0)
				s.Broadcast()
			}
		}()
	}
	wg.Wait()

	r := s.Report(time.Second)
	if r.BuyAttempts != 800 {
		t.Errorf("BuyAttempts = %d, want 800", r.BuyAttempts)
	}
	if r.BuyOK != 400 || r.BuyRefused != 400 {
		t.Errorf("BuyOK/BuyRefused = %d/%d, want 400/400", r.BuyOK, r.BuyRefused)
	}
	if r.BroadcastsSeen != 800 {
		t.Errorf("BroadcastsSeen = %d, want 800", r.BroadcastsSeen)
	}
}

func TestWriteReport(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "runs", "report.json")

	want := Report{
		Duration:     "2s",
		SalesStarted: 5,
		BuyAttempts:  12,
		BuyOK:        9,
		BuyRefused:   3,
		GeneratedAt:  time.Now().UTC(),
	}
	if err := WriteReport(path, want); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if got.SalesStarted != want.SalesStarted || got.BuyAttempts != want.BuyAttempts {
		t.Errorf("report = %+v, want %+v", got, want)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
