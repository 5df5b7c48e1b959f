// Copyright 2026 Formal Kernel Authors

package sentinel

import (
	"sync"
	"testing"
	"time"

	"github.com/formalkernel/kernel/pkg/rigor"
)

func TestStartEndTransaction_RecordsPositiveWallDuration(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil, nil)
	defer m.Close()

	m.StartTransaction("tx1")
	time.Sleep(time.Millisecond)
	rec := m.EndTransaction("tx1", "PROVED")

	if rec.WallDuration <= 0 {
		t.Fatalf("got wall duration %s, want > 0", rec.WallDuration)
	}
	if rec.TxID != "tx1" {
		t.Fatalf("got tx_id %q, want tx1", rec.TxID)
	}
}

func TestEndTransaction_FirstSampleScoresZero(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil, nil)
	defer m.Close()

	m.StartTransaction("tx1")
	rec := m.EndTransaction("tx1", "PROVED")
	if rec.AnomalyScore != 0 {
		t.Fatalf("got anomaly score %v for the first-ever sample, want 0 (no window to deviate from)", rec.AnomalyScore)
	}
}

func TestRegisterListener_NotifiedOnEveryEndTransaction(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil, nil)
	defer m.Close()

	var mu sync.Mutex
	var seen []string
	m.RegisterListener(func(r TransactionRecord) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.TxID)
	})

	m.StartTransaction("tx1")
	m.EndTransaction("tx1", "PROVED")
	m.StartTransaction("tx2")
	m.EndTransaction("tx2", "FAILED")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "tx1" || seen[1] != "tx2" {
		t.Fatalf("got %v, want [tx1 tx2]", seen)
	}
}

func TestEvaluateCrisisLocked_ActivatesWhenFractionExceedsTenPercent(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil, nil)
	defer m.Close()

	now := time.Now()
	m.window = []sample{
		{at: now, anomalyScore: 0.9},
		{at: now, anomalyScore: 0.9},
		{at: now, anomalyScore: 0.1},
		{at: now, anomalyScore: 0.1},
		{at: now, anomalyScore: 0.1},
	}
	activate, deactivate := m.evaluateCrisisLocked(now)
	if !activate {
		t.Fatal("expected should_activate=true with 40% of the window >= 0.7")
	}
	if deactivate {
		t.Fatal("expected should_deactivate=false while above threshold")
	}
}

func TestEvaluateCrisisLocked_DeactivatesOnlyAfterSustainedLowFraction(t *testing.T) {
	m := NewMonitor(DefaultConfig(), nil, nil, nil)
	defer m.Close()

	now := time.Now()
	m.window = []sample{{at: now, anomalyScore: 0.0}}

	_, deactivate := m.evaluateCrisisLocked(now)
	if deactivate {
		t.Fatal("expected should_deactivate=false on the first below-threshold observation")
	}

	later := now.Add(DeactivationWindow + time.Second)
	m.window = []sample{{at: later, anomalyScore: 0.0}}
	_, deactivate = m.evaluateCrisisLocked(later)
	if !deactivate {
		t.Fatal("expected should_deactivate=true once the fraction has stayed low for the full deactivation window")
	}
}

func TestMonitor_EnterCrisisFeedsRigorController(t *testing.T) {
	rc := rigor.New()
	m := NewMonitor(DefaultConfig(), rc, nil, nil)
	defer m.Close()

	now := time.Now()
	m.mu.Lock()
	m.window = make([]sample, 0, 10)
	for i := 0; i < 10; i++ {
		score := 0.1
		if i < 5 {
			score = 0.9
		}
		m.window = append(m.window, sample{at: now, anomalyScore: score})
	}
	m.mu.Unlock()

	m.StartTransaction("tx-crisis")
	m.EndTransaction("tx-crisis", "PROVED")

	if rc.Mode() != rigor.ModeCrisis {
		t.Fatalf("got mode %s, want CRISIS once 50%% of the window exceeds the anomaly threshold", rc.Mode())
	}
}

func TestClose_DrainsQueueIntoStore(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(DefaultStoreConfig(dir + "/sentinel.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	m := NewMonitor(DefaultConfig(), nil, nil, store)
	m.StartTransaction("tx1")
	m.EndTransaction("tx1", "PROVED")
	m.Close()

	var count int
	row := store.db.QueryRow("SELECT COUNT(*) FROM transaction_metrics")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d persisted records after Close, want 1", count)
	}
}
