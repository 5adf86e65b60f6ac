package main

import (
	"testing"
	"time"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, help, err := parseFlags([]string{"/dev/ptmx"})
	if err != nil || help {
		t.Fatalf("parseFlags: help=%v err=%v", help, err)
	}
	if cfg.serialPath != "/dev/modem" {
		t.Fatalf("serialPath = %q, want default", cfg.serialPath)
	}
	if cfg.maxFrameSize != 31 {
		t.Fatalf("maxFrameSize = %d, want 31", cfg.maxFrameSize)
	}
	if cfg.profile != "generic" {
		t.Fatalf("profile = %q, want generic", cfg.profile)
	}
	if len(cfg.endpointPaths) != 1 || cfg.endpointPaths[0] != "/dev/ptmx" {
		t.Fatalf("endpointPaths = %v", cfg.endpointPaths)
	}
}

func TestParseFlags_HelpRequested(t *testing.T) {
	_, help, err := parseFlags([]string{"-h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !help {
		t.Fatalf("expected help=true for -h")
	}
}

func TestParseFlags_NoEndpointsErrors(t *testing.T) {
	if _, _, err := parseFlags([]string{"-p", "/dev/ttyUSB0"}); err == nil {
		t.Fatalf("expected error when no pty paths are given")
	}
}

func TestParseFlags_RejectsUnknownProfile(t *testing.T) {
	if _, _, err := parseFlags([]string{"-m", "nokia", "/dev/ptmx"}); err == nil {
		t.Fatalf("expected error for an unknown modem profile")
	}
}

func TestParseFlags_RejectsUnsupportedBaud(t *testing.T) {
	if _, _, err := parseFlags([]string{"-b", "4800", "/dev/ptmx"}); err == nil {
		t.Fatalf("expected error for an unsupported baud rate")
	}
}

func TestParseFlags_RejectsTooManyEndpoints(t *testing.T) {
	paths := make([]string, maxEndpoints+1)
	for i := range paths {
		paths[i] = "/dev/ptmx"
	}
	if _, _, err := parseFlags(paths); err == nil {
		t.Fatalf("expected error when exceeding maxEndpoints")
	}
}

func TestParseFlags_EnvOverridesUnsetFlags(t *testing.T) {
	t.Setenv("GSMMUXD_SERIAL", "/dev/ttyACM3")
	t.Setenv("GSMMUXD_BAUD", "115200")
	t.Setenv("GSMMUXD_FAULT_TOLERANT", "yes")

	cfg, _, err := parseFlags([]string{"/dev/ptmx"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.serialPath != "/dev/ttyACM3" {
		t.Fatalf("serialPath = %q, want env override", cfg.serialPath)
	}
	if cfg.baud != 115200 {
		t.Fatalf("baud = %d, want env override", cfg.baud)
	}
	if !cfg.faultTolerant {
		t.Fatalf("faultTolerant = false, want env override true")
	}
}

func TestParseFlags_ExplicitFlagWinsOverEnv(t *testing.T) {
	t.Setenv("GSMMUXD_SERIAL", "/dev/ttyACM3")

	cfg, _, err := parseFlags([]string{"-p", "/dev/ttyUSB5", "/dev/ptmx"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.serialPath != "/dev/ttyUSB5" {
		t.Fatalf("serialPath = %q, want explicit flag to win over env", cfg.serialPath)
	}
}

func TestParseFlags_InvalidEnvDurationErrors(t *testing.T) {
	t.Setenv("GSMMUXD_LOG_METRICS_INTERVAL", "not-a-duration")
	if _, _, err := parseFlags([]string{"/dev/ptmx"}); err == nil {
		t.Fatalf("expected error for an unparseable GSMMUXD_LOG_METRICS_INTERVAL")
	}
}

func TestParseFlags_LogMetricsIntervalParsed(t *testing.T) {
	cfg, _, err := parseFlags([]string{"-log-metrics-interval", "30s", "/dev/ptmx"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.logMetricsEvery != 30*time.Second {
		t.Fatalf("logMetricsEvery = %v, want 30s", cfg.logMetricsEvery)
	}
}

func TestTruthy(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "YES": true, "On": true,
		"0": false, "false": false, "": false, "nah": false,
	}
	for in, want := range cases {
		if got := truthy(in); got != want {
			t.Errorf("truthy(%q) = %v, want %v", in, got, want)
		}
	}
}
