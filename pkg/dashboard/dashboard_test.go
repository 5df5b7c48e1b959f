// Copyright 2026 Formal Kernel Authors

package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/formalkernel/kernel/pkg/recovery"
	"github.com/formalkernel/kernel/pkg/rigor"
)

func TestNewMirror_DisabledIsNoOp(t *testing.T) {
	m, err := NewMirror(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	if m.IsEnabled() {
		t.Fatal("expected a disabled mirror")
	}
}

func TestNewMirror_EnabledWithoutProjectIDErrors(t *testing.T) {
	_, err := NewMirror(context.Background(), Config{Enabled: true})
	if err == nil {
		t.Fatal("expected an error when Firestore sync is enabled without a project ID")
	}
}

func TestMirrorRecoveryReport_DisabledReturnsNilWithoutNetworkAccess(t *testing.T) {
	m, err := NewMirror(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	report := &recovery.Report{Recovered: true, UncommittedCount: 2}
	if err := m.MirrorRecoveryReport(context.Background(), report); err != nil {
		t.Fatalf("expected a disabled mirror to no-op, got %v", err)
	}
}

func TestMirrorTransition_DisabledReturnsNilWithoutNetworkAccess(t *testing.T) {
	m, err := NewMirror(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	transition := rigor.Transition{From: rigor.ModeNormal, To: rigor.ModeCrisis, At: time.Now()}
	if err := m.MirrorTransition(context.Background(), transition); err != nil {
		t.Fatalf("expected a disabled mirror to no-op, got %v", err)
	}
}

func TestAsListener_DoesNotPanicWhenDisabled(t *testing.T) {
	m, err := NewMirror(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewMirror: %v", err)
	}
	listener := m.AsListener()
	listener(rigor.Transition{From: rigor.ModeNormal, To: rigor.ModeCrisis, At: time.Now()})
}

func TestConfigFromEnv_DefaultsToDisabled(t *testing.T) {
	t.Setenv("KERNEL_ENABLE_FIRESTORE_SYNC", "")
	cfg := ConfigFromEnv()
	if cfg.Enabled {
		t.Fatal("expected dashboard sync to default to disabled")
	}
}
