// Copyright 2026 Formal Kernel Authors
//
// Package kernel is the top-level wiring function: it owns no logic of its
// own, it only constructs every collaborator (config, recovery, commit,
// integrity, rigor, sentinel, healing, dashboard, pipeline) and exposes the
// VerifyLogic/Commit surface spec §6.2 describes as the kernel's API.
// Grounded on main.go's overall construction order (load config, open
// storage, wire optional integrations behind feature flags, build the
// top-level struct last) -- generalized from that file's L1-specific
// collaborators (PostgreSQL ledger client, Firestore sync service,
// Accumulate/Ethereum clients) to this kernel's defense-pipeline
// collaborators. No package-level mutable state: every field here is
// reached only through a *Kernel value returned by New.
package kernel

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/formalkernel/kernel/pkg/commit"
	"github.com/formalkernel/kernel/pkg/conservation"
	"github.com/formalkernel/kernel/pkg/config"
	"github.com/formalkernel/kernel/pkg/dashboard"
	"github.com/formalkernel/kernel/pkg/healing"
	"github.com/formalkernel/kernel/pkg/integrity"
	"github.com/formalkernel/kernel/pkg/ir"
	"github.com/formalkernel/kernel/pkg/judge"
	"github.com/formalkernel/kernel/pkg/overflow"
	"github.com/formalkernel/kernel/pkg/pipeline"
	"github.com/formalkernel/kernel/pkg/receive"
	"github.com/formalkernel/kernel/pkg/recovery"
	"github.com/formalkernel/kernel/pkg/rigor"
	"github.com/formalkernel/kernel/pkg/sanitizer"
	"github.com/formalkernel/kernel/pkg/semantic"
	"github.com/formalkernel/kernel/pkg/sentinel"
)

// Kernel composes every subsystem behind the spec §6.2 verification and
// commit API. Construct with New; there is no exported zero value.
type Kernel struct {
	cfg *config.Config
	log *log.Logger

	reporter *integrity.Reporter
	auditLog *integrity.LocalAuditLog
	pgAudit  *integrity.PostgresAuditSink

	recoveryReport *recovery.Report

	wal         *commit.WAL
	commitLayer *commit.Layer

	rigorController *rigor.Controller

	sentinelStore   *sentinel.Store
	sentinelMetrics *sentinel.Metrics
	monitor         *sentinel.Monitor

	ruleStore *healing.RuleStore
	learner   *healing.Learner

	mirror *dashboard.Mirror

	pipeline *pipeline.Pipeline
}

// New boots the kernel: runs crash recovery, opens every store, wires the
// Adaptive Rigor/Sentinel feedback loop, and assembles the defense
// pipeline. It returns only after recovery.Boot succeeds; a corrupted or
// missing canonical state aborts the process via an integrity.Panic before
// New can return at all (spec §4.10's "recovery panics are fatal" applies
// here unchanged).
func New(ctx context.Context, cfg *config.Config) (*Kernel, error) {
	logger := log.New(os.Stdout, "[kernel] ", log.LstdFlags)

	auditLog, err := integrity.OpenLocalAuditLog(cfg.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: open local audit log: %w", err)
	}
	sinks := []integrity.AuditSink{auditLog}

	var pgAudit *integrity.PostgresAuditSink
	if cfg.IntegrityAuditDatabaseURL != "" {
		pgAudit, err = integrity.NewPostgresAuditSink(cfg.IntegrityAuditDatabaseURL)
		if err != nil {
			// Operation failure (spec §7 class 2): the local audit log
			// alone still satisfies the "audit trail of last resort"
			// contract, so a missing Postgres mirror does not block boot.
			logger.Printf("postgres audit sink unavailable, continuing with local audit log only: %v", err)
		} else {
			sinks = append(sinks, pgAudit)
		}
	}
	reporter := integrity.NewReporter(sinks...)

	report, err := recovery.Boot(recovery.Options{
		StateDir:     cfg.StateDir,
		WALPath:      cfg.WALPath,
		AuditLogPath: cfg.AuditLogPath,
		Reporter:     reporter,
	})
	if err != nil {
		// Recovery itself succeeded (report.Recovered == true); only the
		// forensic write failed. Non-fatal per spec §7 class 2.
		logger.Printf("recovery completed with a non-fatal error: %v", err)
	}
	logger.Printf("recovery report: recovered=%v uncommitted=%d rolled_back=%d duration_ms=%d",
		report.Recovered, report.UncommittedCount, report.RolledBackCount, report.DurationMS)

	wal, err := commit.OpenWAL(cfg.WALPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: open wal: %w", err)
	}
	commitLayer := commit.NewLayer(cfg.StateDir, wal, nil)

	rigorController := rigor.New()
	rigorController.SetAuditLogger(func(t rigor.Transition) {
		logger.Printf("adaptive rigor transition: %s -> %s at %s", t.From, t.To, t.At.Format(time.RFC3339))
	})

	storeCfg := sentinel.DefaultStoreConfig(cfg.SentinelDBPath)
	sentinelStore, err := sentinel.OpenStore(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("kernel: open sentinel store: %w", err)
	}
	sentinelMetrics := sentinel.NewMetrics()

	sentinelCfg := sentinel.DefaultConfig()
	sentinelCfg.CPUCeiling = cfg.SentinelCPUCeiling
	monitor := sentinel.NewMonitor(sentinelCfg, rigorController, sentinelMetrics, sentinelStore)

	ruleStore, err := healing.Load(cfg.HealingRulesPath)
	if err != nil {
		return nil, fmt.Errorf("kernel: load healing rules: %w", err)
	}
	semanticAnalyzer := semantic.New()
	learner := healing.NewLearner(ruleStore, semanticAnalyzer)

	var mirror *dashboard.Mirror
	mirror, err = dashboard.NewMirror(ctx, dashboard.Config{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentials,
		Enabled:         cfg.EnableFirestoreSync,
		Logger:          log.New(os.Stdout, "[dashboard] ", log.LstdFlags),
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: init dashboard mirror: %w", err)
	}
	rigorController.RegisterListener(mirror.AsListener())
	if mirror.IsEnabled() {
		if mirrErr := mirror.MirrorRecoveryReport(ctx, report); mirrErr != nil {
			logger.Printf("dashboard: mirror recovery report: %v", mirrErr)
		}
	}

	san := sanitizer.New(sanitizer.Limits{
		MaxSourceBytes: cfg.MaxSourceBytes,
		MaxVariables:   cfg.MaxVariables,
		MaxConstraints: cfg.MaxConstraints,
	})

	judgeLimits := judge.DefaultLimits()
	judgeLimits.MaxVariables = cfg.JudgeMaxVariables
	judgeLimits.MaxConstraints = cfg.JudgeMaxConstraints

	p := pipeline.New(
		san,
		semanticAnalyzer,
		conservation.New(nil, nil),
		overflow.New(),
		judgeLimits,
		rigorController,
		monitor,
	)

	return &Kernel{
		cfg:             cfg,
		log:             logger,
		reporter:        reporter,
		auditLog:        auditLog,
		pgAudit:         pgAudit,
		recoveryReport:  report,
		wal:             wal,
		commitLayer:     commitLayer,
		rigorController: rigorController,
		sentinelStore:   sentinelStore,
		sentinelMetrics: sentinelMetrics,
		monitor:         monitor,
		ruleStore:       ruleStore,
		learner:         learner,
		mirror:          mirror,
		pipeline:        p,
	}, nil
}

// RecoveryReport returns the report produced by the boot-time recovery
// pass (spec §4.10 step 6), for operators or health checks.
func (k *Kernel) RecoveryReport() *recovery.Report {
	return k.recoveryReport
}

// Rigor exposes the Adaptive Rigor controller so callers (notably
// cmd/kerneld's health endpoint) can observe the current mode without the
// kernel exposing its entire internal wiring.
func (k *Kernel) Rigor() *rigor.Controller {
	return k.rigorController
}

// VerifyLogic runs src's named intent through the full defense pipeline
// (spec §6.2's verify_logic): sanitizer -> parser -> semantic analyzer ->
// sanitizer AST checks -> conservation -> overflow -> Judge.
func (k *Kernel) VerifyLogic(ctx context.Context, txID, src, intentName string) pipeline.Result {
	return k.pipeline.VerifyLogic(ctx, txID, src, intentName)
}

// ReceiveAndVerify is the kernel's verified external receive point (spec's
// receive-point carve-out: consensus is out of scope, but a signed
// submission still needs authenticating before its payload ever reaches
// the pipeline). It checks env's signature and freshness, and only on
// success treats env.Payload as intent source text and runs VerifyLogic.
func (k *Kernel) ReceiveAndVerify(ctx context.Context, env receive.SignedEnvelope, now time.Time, txID, intentName string) (pipeline.Result, error) {
	if err := receive.Verify(env, now); err != nil {
		return pipeline.Result{}, fmt.Errorf("kernel: reject unverified envelope: %w", err)
	}
	return k.VerifyLogic(ctx, txID, string(env.Payload), intentName), nil
}

// Commit applies changes atomically via the seven-step commit protocol
// (spec §4.9, §6.2's commit). Callers are expected to have already run
// VerifyLogic and obtained a PROVED result before calling Commit; the
// commit layer itself does not re-verify.
func (k *Kernel) Commit(ctx context.Context, txID string, changes, merkleRootBefore, merkleRootAfter map[string][]byte) (*commit.BatchResult, error) {
	result, err := k.commitLayer.Commit(ctx, txID, changes, merkleRootBefore, merkleRootAfter)
	if err != nil {
		return result, err
	}
	if k.mirror.IsEnabled() {
		// Dashboard mirroring is best-effort observability, never on the
		// commit's critical path (spec §7 class 2).
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if mirrErr := k.mirror.MirrorRecoveryReport(mctx, k.recoveryReport); mirrErr != nil {
				k.log.Printf("dashboard: mirror commit result: %v", mirrErr)
			}
		}()
	}
	return result, nil
}

// HandleAttackTrace feeds a blocked transaction's skeletonized trace into
// the self-healing learner (spec §4.11), returning the newly generated
// rule if one was promoted (nil, nil if the candidate triggered a
// false-positive against historical and was discarded).
func (k *Kernel) HandleAttackTrace(trace healing.AttackTrace, historical []*ir.Intent) (*healing.GeneratedHealingRule, error) {
	rule, err := k.learner.HandleTrace(trace, historical)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		if saveErr := healing.Save(k.ruleStore, k.cfg.HealingRulesPath); saveErr != nil {
			k.log.Printf("healing: persist rule store: %v", saveErr)
		}
	}
	return rule, nil
}

// Close releases every owned resource: the Sentinel writer (drains its
// queue first), the Sentinel and WAL file handles, the optional Postgres
// audit sink, the local audit log, and the Firestore mirror.
func (k *Kernel) Close() error {
	k.monitor.Close()
	if k.pgAudit != nil {
		_ = k.pgAudit.Close()
	}
	_ = k.auditLog.Close()
	if err := k.wal.Close(); err != nil {
		return fmt.Errorf("kernel: close wal: %w", err)
	}
	if err := k.mirror.Close(); err != nil {
		return fmt.Errorf("kernel: close dashboard mirror: %w", err)
	}
	return nil
}
