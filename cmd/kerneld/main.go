// Copyright 2026 Formal Kernel Authors
//
// kerneld is a minimal binary wrapping pkg/kernel's wiring function for
// manual smoke testing (spec.md §1 non-goal: not a CLI/REPL product — no
// subcommands, no interactive loop, flags limited to pointing it at one
// intent source). Grounded on main.go's overall shape: flag parsing,
// config load, signal-driven graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/formalkernel/kernel/pkg/kernel"
	"github.com/formalkernel/kernel/pkg/pipeline"

	"github.com/formalkernel/kernel/pkg/config"
)

// Exit codes per spec.md §6.5.
const (
	exitProvedOrSucceeded = 0
	exitRejectedOrFailed  = 1
	exitTimeout           = 2
	exitFatalIntegrity    = 3
)

func main() {
	var (
		sourcePath = flag.String("source", "", "path to an intent source file to verify; if empty, kerneld idles until a shutdown signal")
		intentName = flag.String("intent", "", "name of the intent within -source to verify")
		txID       = flag.String("tx-id", "", "transaction ID recorded in Sentinel telemetry for this call (default: a generated UUID)")
		devMode    = flag.Bool("dev", false, "relax configuration validation to ValidateForDevelopment (state dir only)")
		showHelp   = flag.Bool("help", false, "show this help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg := config.Load()
	var validateErr error
	if *devMode {
		validateErr = cfg.ValidateForDevelopment()
	} else {
		validateErr = cfg.Validate()
	}
	if validateErr != nil {
		log.Printf("configuration validation failed: %v", validateErr)
		os.Exit(exitRejectedOrFailed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolvedTxID := *txID
	if resolvedTxID == "" {
		resolvedTxID = uuid.NewString()
	}

	exitCode, err := run(ctx, cfg, *sourcePath, *intentName, resolvedTxID)
	if err != nil {
		log.Printf("kerneld: %v", err)
	}
	os.Exit(exitCode)
}

// run boots the kernel, optionally runs one verify_logic call, and either
// returns immediately or blocks for a shutdown signal -- mapped into a
// single recover so a fatal integrity.Panic raised during boot or
// verification becomes exit code 3 instead of a bare crash.
func run(ctx context.Context, cfg *config.Config, sourcePath, intentName, txID string) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("fatal integrity panic: %v", r)
			code = exitFatalIntegrity
		}
	}()

	k, err := kernel.New(ctx, cfg)
	if err != nil {
		return exitFatalIntegrity, fmt.Errorf("boot kernel: %w", err)
	}
	defer func() {
		if closeErr := k.Close(); closeErr != nil {
			log.Printf("kerneld: close: %v", closeErr)
		}
	}()

	log.Printf("kernel ready: recovered=%v mode=%s", k.RecoveryReport().Recovered, k.Rigor().Mode())

	if sourcePath == "" {
		waitForShutdown()
		return exitProvedOrSucceeded, nil
	}

	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return exitRejectedOrFailed, fmt.Errorf("read %s: %w", sourcePath, err)
	}

	result := k.VerifyLogic(ctx, txID, string(src), intentName)
	return printResult(result)
}

func printResult(result pipeline.Result) (int, error) {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return exitRejectedOrFailed, fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))

	switch result.Status {
	case pipeline.StatusProved:
		return exitProvedOrSucceeded, nil
	case pipeline.StatusTimeout:
		return exitTimeout, nil
	default:
		return exitRejectedOrFailed, nil
	}
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("shutdown signal received")
}

func printHelp() {
	fmt.Println("kerneld - formal verification transaction kernel")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  kerneld [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -source=PATH    intent source file to verify (omit to idle for manual smoke testing)")
	fmt.Println("  -intent=NAME    name of the intent within -source to verify")
	fmt.Println("  -tx-id=ID       transaction ID recorded in Sentinel telemetry (default: a generated UUID)")
	fmt.Println("  -dev            relax configuration validation for local smoke testing")
	fmt.Println("  -help           show this help message")
}
