// Copyright 2026 Formal Kernel Authors
//
// Package sentinel implements the runtime immune-system monitor (spec
// §4.8): per-transaction telemetry, a rolling 60s anomaly window, crisis
// detection that feeds Adaptive Rigor (pkg/rigor), and an off-thread
// SQLite writer. The writer and ring buffer follow the same
// single-writer-goroutine-drains-an-unbounded-queue shape the teacher
// uses for its Sentinel SQLite store (pkg/sentinel/store.go, itself
// grounded on accumulate-lite-client-2's sqlite store), so the
// verification thread never blocks on disk I/O.
package sentinel

import (
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/formalkernel/kernel/pkg/rigor"
)

// Window is the rolling anomaly-scoring window (spec §4.8).
const Window = 60 * time.Second

// CrisisFractionThreshold is the fraction of transactions with
// anomaly_score >= AnomalyScoreThreshold over Window that triggers
// should_activate.
const CrisisFractionThreshold = 0.10

// AnomalyScoreThreshold is the per-transaction score counted toward the
// crisis fraction.
const AnomalyScoreThreshold = 0.7

// CrisisRateThreshold is the sustained request rate (req/s) that alone
// triggers should_activate, independent of anomaly scores.
const CrisisRateThreshold = 1000.0

// DeactivationWindow and DeactivationFraction together gate leaving
// CRISIS: the anomaly fraction must stay below DeactivationFraction for
// at least DeactivationWindow.
const (
	DeactivationWindow   = 120 * time.Second
	DeactivationFraction = 0.02
)

// DefaultCPUCeiling is the per-thread CPU-violation ceiling outside of
// CRISIS (spec §4.8).
const DefaultCPUCeiling = 50 * time.Millisecond

// TransactionRecord is one completed transaction's telemetry, the unit
// enqueued to the writer and persisted by Store.
type TransactionRecord struct {
	TxID         string
	StartedAt    time.Time
	WallDuration time.Duration
	MemoryDelta  int64
	CPUDelta     time.Duration
	AnomalyScore float64
	CPUViolation bool
	Verdict      string
}

// txStart is what start_transaction captures (spec §4.8 "Captured at
// start").
type txStart struct {
	txID        string
	wallStart   time.Time
	memStart    uint64
	cpuBaseline time.Duration
}

// sample is one (cpu, memory, wall) observation kept in the rolling
// window for computing deviations.
type sample struct {
	at           time.Time
	cpu          time.Duration
	memoryDelta  int64
	wallDuration time.Duration
	anomalyScore float64
}

// Listener is notified after every end_transaction with the record just
// computed, mirroring rigor.Listener's synchronous-fanout shape.
type Listener func(TransactionRecord)

// Monitor is the Sentinel runtime monitor. One Monitor is shared across
// all concurrently-running verifications; StartTransaction/EndTransaction
// are its only externally-synchronized surface (spec §4.8 inputs).
type Monitor struct {
	mu      sync.Mutex
	window  []sample
	inFlt   map[string]txStart
	rigor   *rigor.Controller
	cfg     Config
	metrics *Metrics

	listenersMu sync.Mutex
	listeners   []Listener

	queue  chan TransactionRecord
	store  *Store
	done   chan struct{}
	closed chan struct{}

	crisisSince    time.Time // zero when not in crisis
	belowSince     time.Time // zero until the fraction first drops below DeactivationFraction
	requestTimes   []time.Time
	cpuCeiling     time.Duration
}

// Config configures a Monitor.
type Config struct {
	CPUCeiling    time.Duration
	QueueCapacity int // buffered channel size; 0 selects the default of 65536
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConfig returns Sentinel's production defaults.
func DefaultConfig() Config {
	return Config{
		CPUCeiling:    DefaultCPUCeiling,
		QueueCapacity: 65536,
		BatchSize:     200,
		FlushInterval: 250 * time.Millisecond,
	}
}

// NewMonitor constructs a Monitor and starts its dedicated writer
// goroutine. store may be nil (telemetry is scored and fanned out to
// listeners but nothing is persisted) for tests that don't need SQLite.
func NewMonitor(cfg Config, rc *rigor.Controller, metrics *Metrics, store *Store) *Monitor {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 65536
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 250 * time.Millisecond
	}
	m := &Monitor{
		inFlt:      make(map[string]txStart),
		rigor:      rc,
		cfg:        cfg,
		metrics:    metrics,
		queue:      make(chan TransactionRecord, cfg.QueueCapacity),
		store:      store,
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
		cpuCeiling: cfg.CPUCeiling,
	}
	go m.writerLoop()
	return m
}

// RegisterListener adds a synchronous end_transaction observer.
func (m *Monitor) RegisterListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// StartTransaction captures the baseline telemetry for tx_id (spec §4.8).
func (m *Monitor) StartTransaction(txID string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlt[txID] = txStart{
		txID:        txID,
		wallStart:   time.Now(),
		memStart:    ms.Alloc,
		cpuBaseline: threadCPUTime(),
	}
	m.requestTimes = append(m.requestTimes, time.Now())
	m.pruneRequestTimesLocked(time.Now())
}

// EndTransaction captures end telemetry, scores the transaction,
// enqueues it for persistence, and fans it out to registered listeners
// and (if configured) the Adaptive Rigor controller (spec §4.8).
func (m *Monitor) EndTransaction(txID string, verdict string) TransactionRecord {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	now := time.Now()
	cpuNow := threadCPUTime()

	m.mu.Lock()
	start, ok := m.inFlt[txID]
	delete(m.inFlt, txID)
	if !ok {
		start = txStart{txID: txID, wallStart: now, memStart: ms.Alloc, cpuBaseline: cpuNow}
	}

	wallDuration := now.Sub(start.wallStart)
	memDelta := int64(ms.Alloc) - int64(start.memStart)
	cpuDelta := cpuNow - start.cpuBaseline
	if cpuDelta < 0 {
		cpuDelta = 0
	}

	score := m.scoreLocked(cpuDelta, memDelta, wallDuration, now)
	cpuCeiling := m.cpuCeiling
	if m.rigor != nil {
		cpuCeiling = m.rigor.Snapshot().CPUCeiling
	}
	violation := cpuDelta > cpuCeiling

	m.window = append(m.window, sample{
		at: now, cpu: cpuDelta, memoryDelta: memDelta,
		wallDuration: wallDuration, anomalyScore: score,
	})
	m.pruneWindowLocked(now)
	shouldActivate, shouldDeactivate := m.evaluateCrisisLocked(now)
	m.mu.Unlock()

	record := TransactionRecord{
		TxID:         txID,
		StartedAt:    start.wallStart,
		WallDuration: wallDuration,
		MemoryDelta:  memDelta,
		CPUDelta:     cpuDelta,
		AnomalyScore: score,
		CPUViolation: violation,
		Verdict:      verdict,
	}

	if m.metrics != nil {
		m.metrics.TransactionDuration.WithLabelValues(verdict).Observe(wallDuration.Seconds())
		m.metrics.AnomalyScore.WithLabelValues(verdict).Observe(score)
		m.metrics.TransactionsTotal.WithLabelValues(verdict).Inc()
		if violation {
			mode := "NORMAL"
			if m.rigor != nil {
				mode = string(m.rigor.Mode())
			}
			m.metrics.CPUViolations.WithLabelValues(mode).Inc()
		}
	}

	select {
	case m.queue <- record:
	default:
		// Backpressure (spec §5): the queue is a buffered channel of
		// QueueCapacity records. When it is full the record is dropped
		// (not persisted) rather than blocking the verification
		// thread, which must never wait on Sentinel I/O.
	}

	m.listenersMu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, l := range listeners {
		l(record)
	}

	if m.rigor != nil {
		if shouldActivate && m.rigor.Mode() == rigor.ModeNormal {
			m.rigor.EnterCrisis(now)
			if m.metrics != nil {
				m.metrics.CrisisActive.Set(1)
			}
		} else if shouldDeactivate && m.rigor.Mode() == rigor.ModeCrisis {
			m.rigor.EnterRecovery(now)
			if m.metrics != nil {
				m.metrics.CrisisActive.Set(0)
			}
		}
	}

	return record
}

// scoreLocked computes the weighted anomaly score from deviation of the
// current sample against the rolling window's means (spec §4.8). Called
// with m.mu held.
func (m *Monitor) scoreLocked(cpu time.Duration, memDelta int64, wall time.Duration, now time.Time) float64 {
	if len(m.window) == 0 {
		return 0
	}
	var cpuSum, wallSum float64
	var memSum int64
	n := 0
	for _, s := range m.window {
		if now.Sub(s.at) > Window {
			continue
		}
		cpuSum += float64(s.cpu)
		wallSum += float64(s.wallDuration)
		memSum += s.memoryDelta
		n++
	}
	if n == 0 {
		return 0
	}
	meanCPU := cpuSum / float64(n)
	meanWall := wallSum / float64(n)
	meanMem := float64(memSum) / float64(n)

	cpuDev := deviationRatio(float64(cpu), meanCPU)
	wallDev := deviationRatio(float64(wall), meanWall)
	memDev := deviationRatio(float64(memDelta), meanMem)

	// Equal weighting across the three dimensions (spec §4.8 leaves exact
	// weights to the implementer; this is the simplest contract-meeting
	// choice).
	score := (cpuDev + wallDev + memDev) / 3
	return clip01(score)
}

func deviationRatio(value, mean float64) float64 {
	if mean <= 0 {
		if value <= 0 {
			return 0
		}
		return 1
	}
	dev := (value - mean) / mean
	if dev < 0 {
		dev = 0
	}
	return dev
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (m *Monitor) pruneWindowLocked(now time.Time) {
	cut := 0
	for i, s := range m.window {
		if now.Sub(s.at) <= Window {
			cut = i
			break
		}
		cut = i + 1
	}
	m.window = m.window[cut:]
}

func (m *Monitor) pruneRequestTimesLocked(now time.Time) {
	cut := 0
	for i, t := range m.requestTimes {
		if now.Sub(t) <= time.Second {
			cut = i
			break
		}
		cut = i + 1
	}
	m.requestTimes = m.requestTimes[cut:]
}

// evaluateCrisisLocked implements spec §4.8's crisis-detection and
// deactivation contract. Called with m.mu held.
func (m *Monitor) evaluateCrisisLocked(now time.Time) (shouldActivate, shouldDeactivate bool) {
	if len(m.window) == 0 {
		return false, false
	}
	above := 0
	for _, s := range m.window {
		if s.anomalyScore >= AnomalyScoreThreshold {
			above++
		}
	}
	fraction := float64(above) / float64(len(m.window))
	rate := float64(len(m.requestTimes))

	if fraction > CrisisFractionThreshold || rate > CrisisRateThreshold {
		shouldActivate = true
		m.belowSince = time.Time{}
		return shouldActivate, false
	}

	if fraction < DeactivationFraction {
		if m.belowSince.IsZero() {
			m.belowSince = now
		}
		if now.Sub(m.belowSince) >= DeactivationWindow {
			return false, true
		}
	} else {
		m.belowSince = time.Time{}
	}
	return false, false
}

// writerLoop is the single dedicated writer draining the bounded
// queue, batching inserts to the SQLite store (spec §4.8). It never
// blocks the verification thread: EndTransaction only ever enqueues.
func (m *Monitor) writerLoop() {
	defer close(m.closed)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]TransactionRecord, 0, m.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 || m.store == nil {
			batch = batch[:0]
			return
		}
		_ = m.store.InsertBatch(batch) // spec §7 class 2: a lost metrics batch never halts the kernel.
		batch = batch[:0]
	}

	for {
		select {
		case r := <-m.queue:
			batch = append(batch, r)
			if len(batch) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.done:
			// Drain whatever remains before exiting (spec §4.8 "on
			// shutdown the writer must drain before the process exits").
			for {
				select {
				case r := <-m.queue:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close signals the writer to drain and exit, and blocks until it has.
func (m *Monitor) Close() {
	close(m.done)
	<-m.closed
	if m.store != nil {
		_ = m.store.Close()
	}
}

// threadCPUTime returns the calling OS thread's consumed CPU time.
// Linux-specific (RUSAGE_THREAD): Sentinel's overhead contract (spec
// §4.8 "zero-overhead cost on the critical path") is met by sampling the
// kernel's own per-thread accounting rather than computing anything
// ourselves, at the cost of the measurement being approximate across a
// goroutine that migrates OS threads mid-transaction.
func threadCPUTime() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_THREAD, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond +
		time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
}
