// Copyright 2026 Formal Kernel Authors

package kernel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	cmted25519 "github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/formalkernel/kernel/pkg/commit"
	"github.com/formalkernel/kernel/pkg/config"
	"github.com/formalkernel/kernel/pkg/healing"
	"github.com/formalkernel/kernel/pkg/pipeline"
	"github.com/formalkernel/kernel/pkg/receive"
)

const transferSrc = `
intent transfer(sender: address, receiver: address, amount: uint) {
	guard {
		amount > 0;
		balance_sender >= amount;
	}
	verify {
		balance_sender == old_balance_sender - amount;
		balance_receiver == old_balance_receiver + amount;
	}
}
`

// seedGenesis writes an empty canonical state file so recovery.Boot finds
// present state rather than raising a fatal StateFileMissing panic.
func seedGenesis(t *testing.T, stateDir string) {
	t.Helper()
	statePath := commit.CanonicalStatePath(stateDir)
	if _, err := commit.WriteStateFileAtomic(stateDir, statePath, "genesis", map[string][]byte{}); err != nil {
		t.Fatalf("seed genesis state: %v", err)
	}
}

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()
	seedGenesis(t, dir)

	cfg := config.Load()
	cfg.StateDir = dir
	cfg.WALPath = filepath.Join(dir, "wal", "wal.log")
	cfg.AuditLogPath = filepath.Join(dir, "recovery_audit.log")
	cfg.SentinelDBPath = filepath.Join(dir, "sentinel.db")
	cfg.HealingRulesPath = filepath.Join(dir, "healing_rules.json")

	k, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := k.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return k
}

// TestKernel exercises the wired surface end to end as one Kernel
// instance: pkg/sentinel's Prometheus metrics register against the
// default registerer once per process, so one *Kernel is shared across
// subtests rather than constructing a fresh one per test function.
func TestKernel(t *testing.T) {
	k := newTestKernel(t)
	ctx := context.Background()

	t.Run("BootsFromGenesisState", func(t *testing.T) {
		if !k.RecoveryReport().Recovered {
			t.Fatal("expected recovery to report success")
		}
	})

	t.Run("StartsInNormalRigorMode", func(t *testing.T) {
		if k.Rigor().Mode() != "NORMAL" {
			t.Fatalf("got mode %s, want NORMAL", k.Rigor().Mode())
		}
	})

	t.Run("VerifyLogicProvesSimpleTransferAndCommits", func(t *testing.T) {
		result := k.VerifyLogic(ctx, "tx-1", transferSrc, "transfer")
		if result.Status != pipeline.StatusProved {
			t.Fatalf("got status %s (%s), want PROVED", result.Status, result.Message)
		}

		changes := map[string][]byte{"balance_sender": []byte("900"), "balance_receiver": []byte("1100")}
		batchResult, err := k.Commit(ctx, "tx-1", changes, nil, nil)
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if !batchResult.Success {
			t.Fatalf("got commit success=false, errorType=%s", batchResult.ErrorType)
		}
	})

	t.Run("ReceiveAndVerifyRejectsTamperedPayload", func(t *testing.T) {
		priv := cmted25519.GenPrivKey()
		now := time.Now()
		env, err := receive.Sign(priv, "sender-1", []byte(transferSrc), now)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		env.Payload = append(env.Payload, '!')

		if _, err := k.ReceiveAndVerify(ctx, env, now, "tx-2", "transfer"); err == nil {
			t.Fatal("expected a tampered payload to be rejected before reaching the pipeline")
		}
	})

	t.Run("ReceiveAndVerifyAcceptsProperlySignedEnvelope", func(t *testing.T) {
		priv := cmted25519.GenPrivKey()
		now := time.Now()
		env, err := receive.Sign(priv, "sender-1", []byte(transferSrc), now)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}

		result, err := k.ReceiveAndVerify(ctx, env, now, "tx-3", "transfer")
		if err != nil {
			t.Fatalf("ReceiveAndVerify: %v", err)
		}
		if result.Status != pipeline.StatusProved {
			t.Fatalf("got status %s (%s), want PROVED", result.Status, result.Message)
		}
	})

	t.Run("HandleAttackTraceGeneratesRuleWithNoHistoricalIntents", func(t *testing.T) {
		trace := healing.AttackTrace{
			AttackType:     "test_attack",
			ASTPatternHash: "deadbeef",
			ASTSkeleton:    "intent(guard(gt(VAR,LIT)))",
			Timestamp:      time.Now(),
		}
		rule, err := k.HandleAttackTrace(trace, nil)
		if err != nil {
			t.Fatalf("HandleAttackTrace: %v", err)
		}
		if rule == nil {
			t.Fatal("expected a rule to be generated with no historical false positives")
		}
	})
}
