// Copyright 2026 Formal Kernel Authors

package pipeline

import (
	"context"
	"testing"

	"github.com/formalkernel/kernel/pkg/conservation"
	"github.com/formalkernel/kernel/pkg/judge"
	"github.com/formalkernel/kernel/pkg/overflow"
	"github.com/formalkernel/kernel/pkg/rigor"
	"github.com/formalkernel/kernel/pkg/sanitizer"
	"github.com/formalkernel/kernel/pkg/semantic"
)

const simpleTransferSrc = `
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

const moneyPrinterSrc = `
intent transfer(sender: address, receiver: address, amount: uint) {
	guard {
		amount > 0;
		balance_sender >= amount;
	}
	verify {
		balance_sender == old_balance_sender - 100;
		balance_receiver == old_balance_receiver + 200;
	}
}
`

const bitwiseSrc = `
intent shady(balance: uint, amount: uint) {
	guard { balance >= (amount | 255); }
	verify { balance == old_balance; }
}
`

func newTestPipeline() *Pipeline {
	return New(
		sanitizer.New(sanitizer.DefaultLimits()),
		semantic.New(),
		conservation.New(nil, nil),
		overflow.New(),
		judge.DefaultLimits(),
		rigor.New(),
		nil,
	)
}

func TestVerifyLogic_SimpleTransferProved(t *testing.T) {
	p := newTestPipeline()
	result := p.VerifyLogic(context.Background(), "tx-1", simpleTransferSrc, "transfer")
	if result.Status != StatusProved {
		t.Fatalf("got status %s (%s), want PROVED", result.Status, result.Message)
	}
}

func TestVerifyLogic_MoneyPrinterRejectedByConservation(t *testing.T) {
	p := newTestPipeline()
	result := p.VerifyLogic(context.Background(), "tx-2", moneyPrinterSrc, "transfer")
	if result.Status != StatusRejected || result.Category != CategoryConservation {
		t.Fatalf("got status=%s category=%s, want REJECTED/CONSERVATION", result.Status, result.Category)
	}
}

func TestVerifyLogic_BitwiseConstraintRejectedUnsupported(t *testing.T) {
	p := newTestPipeline()
	result := p.VerifyLogic(context.Background(), "tx-3", bitwiseSrc, "shady")
	if result.Status != StatusRejected || result.Category != CategoryUnsupportedConstraint {
		t.Fatalf("got status=%s category=%s, want REJECTED/UNSUPPORTED_CONSTRAINT", result.Status, result.Category)
	}
}

func TestVerifyLogic_UnknownIntentNameRejected(t *testing.T) {
	p := newTestPipeline()
	result := p.VerifyLogic(context.Background(), "tx-4", simpleTransferSrc, "does_not_exist")
	if result.Status != StatusRejected {
		t.Fatalf("got status %s, want REJECTED for an unknown intent name", result.Status)
	}
}

func TestVerifyLogic_OversizedSourceRejectedBySanitizerBeforeParsing(t *testing.T) {
	p := New(
		sanitizer.New(sanitizer.Limits{MaxSourceBytes: 10, MaxVariables: 100, MaxConstraints: 500}),
		semantic.New(),
		conservation.New(nil, nil),
		overflow.New(),
		judge.DefaultLimits(),
		rigor.New(),
		nil,
	)
	result := p.VerifyLogic(context.Background(), "tx-5", simpleTransferSrc, "transfer")
	if result.Status != StatusRejected || result.Category != CategorySanitizer {
		t.Fatalf("got status=%s category=%s, want REJECTED/SANITIZER", result.Status, result.Category)
	}
}

func TestVerifyLogic_RecordsTelemetryWallDuration(t *testing.T) {
	p := newTestPipeline()
	result := p.VerifyLogic(context.Background(), "tx-6", simpleTransferSrc, "transfer")
	if result.Telemetry.TxID != "tx-6" {
		t.Fatalf("got telemetry tx_id %q, want tx-6", result.Telemetry.TxID)
	}
	if result.Telemetry.WallDuration <= 0 {
		t.Fatalf("got telemetry wall duration %s, want > 0", result.Telemetry.WallDuration)
	}
}
