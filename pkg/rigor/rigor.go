// Copyright 2026 Formal Kernel Authors
//
// Package rigor implements the Adaptive Rigor mode state machine (spec
// §4.7): a flat config struct per mode, copy-on-read by every verification,
// never mutated in flight. Grounded on pkg/config/config.go's flat-struct
// configuration shape, and on the listener-fanout pattern in
// pkg/consensus/health_monitor.go (SetOnStallDetected/onRecovery), here
// generalized from a pair of named callbacks to a registered slice of
// Listener so more than one subscriber (Sentinel, telemetry, CLI) can
// observe a transition.
package rigor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Mode is one of the three Adaptive Rigor states.
type Mode string

const (
	ModeNormal   Mode = "NORMAL"
	ModeCrisis   Mode = "CRISIS"
	ModeRecovery Mode = "RECOVERY"
)

// Config is the per-mode bundle the Judge consumes at the start of every
// verification (spec §4.6 step 1, §4.7). Callers must treat a Config value
// as immutable once handed one by Snapshot: copy-on-read means each
// verification gets its own value, not a pointer into the live state.
type Config struct {
	Mode Mode

	// Z3Timeout bounds the SMT solver for this verification.
	Z3Timeout time.Duration

	// ProofOfWorkRequired gates whether callers must attach a
	// proof-of-work token before the pipeline will accept the intent.
	ProofOfWorkRequired bool

	// SentinelSampleRate is the fraction (0,1] of transactions Sentinel
	// fully instruments; NORMAL samples everything, CRISIS tightens
	// thresholds instead of sampling less.
	SentinelSampleRate float64

	// AnomalyThreshold is the per-transaction anomaly score (spec §4.8)
	// at or above which a transaction counts toward the crisis fraction.
	AnomalyThreshold float64

	// CPUCeiling is the per-thread CPU-violation ceiling (spec §4.8,
	// default 50ms, stricter in CRISIS).
	CPUCeiling time.Duration

	// JustLeftCrisis is RECOVERY's sticky observability flag: true for
	// every RECOVERY-mode config until the state machine advances back
	// to NORMAL.
	JustLeftCrisis bool
}

func normalConfig() Config {
	return Config{
		Mode:                ModeNormal,
		Z3Timeout:           30 * time.Second,
		ProofOfWorkRequired: false,
		SentinelSampleRate:  1.0,
		AnomalyThreshold:    0.7,
		CPUCeiling:          50 * time.Millisecond,
	}
}

func crisisConfig() Config {
	return Config{
		Mode:                ModeCrisis,
		Z3Timeout:           5 * time.Second,
		ProofOfWorkRequired: true,
		SentinelSampleRate:  1.0,
		AnomalyThreshold:    0.5,
		CPUCeiling:          20 * time.Millisecond,
	}
}

func recoveryConfig() Config {
	c := normalConfig()
	c.Mode = ModeRecovery
	c.JustLeftCrisis = true
	return c
}

// Transition describes one mode change, handed to every registered Listener.
type Transition struct {
	From Mode
	To   Mode
	At   time.Time
}

// Listener observes mode transitions. Adaptive Rigor itself has no
// opinion on who listens; Sentinel registers one to know when its
// stricter CRISIS thresholds apply, and the kernel's wiring may register
// one purely for durable logging.
type Listener func(Transition)

// Controller owns the current mode and broadcasts transitions
// synchronously to its listeners (spec §4.7: "transitions are driven by
// Sentinel listeners... broadcast synchronously", mirroring
// ConsensusHealthMonitor's on* callbacks but as a registrable set rather
// than three fixed slots).
type Controller struct {
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []Listener
	onLog     func(Transition)
}

// New constructs a Controller starting in NORMAL mode.
func New() *Controller {
	c := &Controller{}
	cfg := normalConfig()
	c.current.Store(&cfg)
	return c
}

// Snapshot returns the current mode's config, copy-on-read: the caller
// gets an independent value, safe to hold for the lifetime of one
// verification even if the mode changes concurrently (spec §5 "copy-on-read
// config struct").
func (c *Controller) Snapshot() Config {
	return *c.current.Load()
}

// Mode reports the controller's current mode without allocating a
// Config copy.
func (c *Controller) Mode() Mode {
	return c.current.Load().Mode
}

// RegisterListener adds a listener notified synchronously on every
// transition, in registration order. Returns immediately available; the
// next transition (not past ones) will include it.
func (c *Controller) RegisterListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SetAuditLogger installs the single durable-logging sink. Spec §4.7
// requires "each transition is also logged durably" in addition to the
// listener broadcast; kept distinct from RegisterListener so wiring code
// can't accidentally omit it when composing listeners.
func (c *Controller) SetAuditLogger(fn func(Transition)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLog = fn
}

// EnterCrisis transitions to CRISIS mode if not already there. No-op
// (returns false) if the controller is already in CRISIS.
func (c *Controller) EnterCrisis(at time.Time) bool {
	return c.transitionTo(crisisConfig(), at)
}

// EnterRecovery transitions to RECOVERY mode, normally called once
// Sentinel's crisis-deactivation contract (120s below 2% anomaly
// fraction) is satisfied.
func (c *Controller) EnterRecovery(at time.Time) bool {
	return c.transitionTo(recoveryConfig(), at)
}

// EnterNormal clears RECOVERY's sticky flag and returns to steady state.
func (c *Controller) EnterNormal(at time.Time) bool {
	return c.transitionTo(normalConfig(), at)
}

func (c *Controller) transitionTo(next Config, at time.Time) bool {
	prev := c.current.Load()
	if prev.Mode == next.Mode {
		return false
	}
	c.current.Store(&next)

	t := Transition{From: prev.Mode, To: next.Mode, At: at}
	c.mu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	logger := c.onLog
	c.mu.Unlock()

	for _, l := range listeners {
		l(t)
	}
	if logger != nil {
		logger(t)
	}
	return true
}
