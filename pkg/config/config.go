// Copyright 2026 Formal Kernel Authors
//
// Package config loads the kernel's flat, environment-variable-driven
// configuration struct. Grounded on pkg/config/config.go's getEnv/
// getEnvInt/getEnvBool/getEnvDuration helper shape and its
// Validate/ValidateForDevelopment split, generalized from the teacher's
// L1-blockchain-specific fields to this kernel's state directory,
// defense-pipeline limits, and optional integrations (spec §6.6: "all
// paths are configurable via the respective constructors; no global
// process-wide state is required" — Load returns a value, never sets
// package-level state).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-tunable setting the kernel's wiring
// function needs to construct its collaborators.
type Config struct {
	// State directory layout (spec §6.3).
	StateDir     string
	WALPath      string
	AuditLogPath string

	// Sentinel telemetry store (spec §6.4).
	SentinelDBPath string

	// Self-healing rule persistence (spec §4.11).
	HealingRulesPath string

	// Sanitizer (L0) limits (spec §4.2).
	MaxSourceBytes int
	MaxVariables   int
	MaxConstraints int

	// Judge (L3) limits (spec §4.6).
	JudgeMaxVariables   int
	JudgeMaxConstraints int

	// Adaptive Rigor normal-mode bounds (spec §4.7); crisis/recovery
	// bounds are fixed by policy, not environment-tunable.
	NormalZ3Timeout time.Duration

	// Sentinel thresholds (spec §4.8).
	SentinelCPUCeiling time.Duration

	// Optional PostgreSQL audit sink for integrity panics (spec §7);
	// empty disables it and pkg/kernel falls back to the local audit log.
	IntegrityAuditDatabaseURL string

	// Optional Firestore dashboard mirror (spec_full §"pkg/dashboard").
	EnableFirestoreSync bool
	FirebaseProjectID   string
	FirebaseCredentials string

	// Node identity, surfaced on InvalidSignaturePanic/
	// NodeIdentityMismatchPanic forensic metadata (spec §7).
	NodeID string
}

// Load reads Config from the environment, applying the same safe-default
// philosophy as the teacher: operational knobs get sane defaults,
// nothing security-relevant is silently enabled.
func Load() *Config {
	return &Config{
		StateDir:     getEnv("KERNEL_STATE_DIR", "./state"),
		WALPath:      getEnv("KERNEL_WAL_PATH", "./state/wal/wal.log"),
		AuditLogPath: getEnv("KERNEL_AUDIT_LOG_PATH", "./state/recovery_audit.log"),

		SentinelDBPath: getEnv("KERNEL_SENTINEL_DB_PATH", "./state/sentinel.db"),

		HealingRulesPath: getEnv("KERNEL_HEALING_RULES_PATH", "./state/healing_rules.json"),

		MaxSourceBytes: getEnvInt("KERNEL_MAX_SOURCE_BYTES", 1<<20),
		MaxVariables:   getEnvInt("KERNEL_MAX_VARIABLES", 100),
		MaxConstraints: getEnvInt("KERNEL_MAX_CONSTRAINTS", 500),

		JudgeMaxVariables:   getEnvInt("KERNEL_JUDGE_MAX_VARIABLES", 100),
		JudgeMaxConstraints: getEnvInt("KERNEL_JUDGE_MAX_CONSTRAINTS", 500),

		NormalZ3Timeout: getEnvDuration("KERNEL_NORMAL_Z3_TIMEOUT", 30*time.Second),

		SentinelCPUCeiling: getEnvDuration("KERNEL_SENTINEL_CPU_CEILING", 50*time.Millisecond),

		IntegrityAuditDatabaseURL: getEnv("KERNEL_INTEGRITY_AUDIT_DATABASE_URL", ""),

		EnableFirestoreSync: getEnvBool("KERNEL_ENABLE_FIRESTORE_SYNC", false),
		FirebaseProjectID:   getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		NodeID: getEnv("KERNEL_NODE_ID", "kernel-node-default"),
	}
}

// Validate enforces production-readiness: the state directory and WAL
// path must be configured, the sanitizer limits must be positive, and an
// enabled Firestore sync must name its project. The audit log, Sentinel
// database and healing-rules paths are not checked. Call after Load() before passing Config into the kernel's
// wiring function.
func (c *Config) Validate() error {
	var errs []string

	if c.StateDir == "" {
		errs = append(errs, "KERNEL_STATE_DIR is required but not set")
	}
	if c.WALPath == "" {
		errs = append(errs, "KERNEL_WAL_PATH is required but not set")
	}
	if c.MaxVariables <= 0 || c.MaxConstraints <= 0 {
		errs = append(errs, "KERNEL_MAX_VARIABLES and KERNEL_MAX_CONSTRAINTS must be positive")
	}
	if c.EnableFirestoreSync && c.FirebaseProjectID == "" {
		errs = append(errs, "FIREBASE_PROJECT_ID is required when KERNEL_ENABLE_FIRESTORE_SYNC is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// smoke testing: only the state directory is required.
func (c *Config) ValidateForDevelopment() error {
	if c.StateDir == "" {
		return fmt.Errorf("development configuration validation failed: KERNEL_STATE_DIR is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
