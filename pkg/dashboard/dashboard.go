// Copyright 2026 Formal Kernel Authors
//
// Package dashboard mirrors recovery reports and Adaptive Rigor mode
// transitions into Firestore for a real-time operator UI. Entirely
// optional: disabled by default, gated by KERNEL_ENABLE_FIRESTORE_SYNC,
// and every write is a no-op when disabled or uninitialized. Grounded on
// pkg/firestore/{client,sync_service,audit_trail}.go's
// enabled-flag-guarded Client and per-entity Create*Entry methods.
package dashboard

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"

	"github.com/formalkernel/kernel/pkg/recovery"
	"github.com/formalkernel/kernel/pkg/rigor"
)

// Config configures the Firestore mirror.
type Config struct {
	ProjectID       string
	CredentialsFile string
	Enabled         bool
	Logger          *log.Logger
}

// ConfigFromEnv reads Config the way pkg/firestore/client.go's DefaultConfig
// does: KERNEL_ENABLE_FIRESTORE_SYNC gates the mirror, FIREBASE_PROJECT_ID
// and GOOGLE_APPLICATION_CREDENTIALS supply the rest.
func ConfigFromEnv() Config {
	return Config{
		ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		Enabled:         os.Getenv("KERNEL_ENABLE_FIRESTORE_SYNC") == "true",
		Logger:          log.New(os.Stdout, "[dashboard] ", log.LstdFlags),
	}
}

// Mirror wraps a Firestore client behind an enabled flag; every method is
// a no-op when disabled, so call sites never need to branch on
// whether the mirror is configured.
type Mirror struct {
	mu        sync.RWMutex
	firestore *gcpfirestore.Client
	app       *firebase.App
	enabled   bool
	logger    *log.Logger
}

// NewMirror constructs a Mirror. If cfg.Enabled is false, it returns
// immediately with a no-op Mirror and never touches the network.
func NewMirror(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[dashboard] ", log.LstdFlags)
	}
	m := &Mirror{logger: cfg.Logger, enabled: cfg.Enabled}
	if !cfg.Enabled {
		cfg.Logger.Println("Firestore dashboard mirror disabled - running in no-op mode")
		return m, nil
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("dashboard: FIREBASE_PROJECT_ID is required when Firestore sync is enabled")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("dashboard: initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard: create firestore client: %w", err)
	}
	m.app = app
	m.firestore = client
	cfg.Logger.Printf("dashboard mirror initialized for project: %s", cfg.ProjectID)
	return m, nil
}

// IsEnabled reports whether the mirror will perform real writes.
func (m *Mirror) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Close releases the underlying Firestore client, if any.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firestore != nil {
		return m.firestore.Close()
	}
	return nil
}

// MirrorRecoveryReport pushes one crash-recovery RecoveryReport (spec
// §4.10 step 6) to kernel/recoveryReports/entries/recovery_{unix-nanos}.
func (m *Mirror) MirrorRecoveryReport(ctx context.Context, report *recovery.Report) error {
	if !m.IsEnabled() {
		m.logger.Println("dashboard disabled - skipping recovery report mirror")
		return nil
	}
	if m.firestore == nil {
		return fmt.Errorf("dashboard: firestore client not initialized")
	}
	docID := fmt.Sprintf("recovery_%d", time.Now().UnixNano())
	_, err := m.firestore.Doc("kernel/recoveryReports/entries/"+docID).Set(ctx, map[string]interface{}{
		"recovered":            report.Recovered,
		"uncommitted_count":    report.UncommittedCount,
		"rolled_back_count":    report.RolledBackCount,
		"temp_files_cleaned":   report.TempFilesCleaned,
		"merkle_root_verified": report.MerkleRootVerified,
		"duration_ms":          report.DurationMS,
		"budget_exceeded":      report.BudgetExceeded,
		"audit_log":            report.AuditLog,
		"mirrored_at":          time.Now(),
	})
	if err != nil {
		return fmt.Errorf("dashboard: mirror recovery report: %w", err)
	}
	return nil
}

// MirrorTransition pushes one Adaptive Rigor mode transition to
// kernel/rigorTransitions/entries/transition_{unix-nanos of t.At}, wired
// as a rigor.Listener.
func (m *Mirror) MirrorTransition(ctx context.Context, t rigor.Transition) error {
	if !m.IsEnabled() {
		return nil
	}
	if m.firestore == nil {
		return fmt.Errorf("dashboard: firestore client not initialized")
	}
	docID := fmt.Sprintf("transition_%d", t.At.UnixNano())
	_, err := m.firestore.Doc("kernel/rigorTransitions/entries/"+docID).Set(ctx, map[string]interface{}{
		"from": string(t.From),
		"to":   string(t.To),
		"at":   t.At,
	})
	if err != nil {
		return fmt.Errorf("dashboard: mirror transition: %w", err)
	}
	return nil
}

// AsListener adapts MirrorTransition into a rigor.Listener, swallowing
// errors into a log line: a dashboard write failure must never affect
// the Adaptive Rigor state machine it is merely observing.
func (m *Mirror) AsListener() rigor.Listener {
	return func(t rigor.Transition) {
		if err := m.MirrorTransition(context.Background(), t); err != nil {
			m.logger.Printf("dashboard: transition mirror failed: %v", err)
		}
	}
}
