package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadValidManifest(t *testing.T) {
	dir := t.TempDir()
	workdir := filepath.Join(dir, "app")
	if err := os.Mkdir(workdir, 0o755); err != nil {
		t.Fatalf("mkdir workdir: %v", err)
	}
	envFile := filepath.Join(workdir, "vars.env")
	if err := os.WriteFile(envFile, []byte("GOOGLE_API_KEY=${FILE_SECRET}\nCALENDAR_PORT=3000"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("FILE_SECRET", "alpha")
	t.Setenv("WORKDIR_PATH", "./app")
	t.Setenv("ENV_FILE", "./vars.env")
	t.Setenv("AGENT_MODEL", "gemini-2.5-flash")

	manifestPath := filepath.Join(dir, "atlas.yaml")
	manifest := []byte(`version: 0.1
session:
  name: atlas
  workdir: ${WORKDIR_PATH}
  envFile: ${ENV_FILE}
services:
  calendar:
    role: sidecar
    command: ["node", "build/index.js"]
    ports: ["3000"]
    health:
      tcp:
        address: 127.0.0.1:3000
  agent:
    role: foreground
    command: ["python", "-m", "atlas"]
    env:
      MODEL: ${AGENT_MODEL}
`)
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	doc, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if got, want := doc.Session.Workdir, workdir; got != want {
		t.Fatalf("unexpected workdir: got %q want %q", got, want)
	}
	if got, want := doc.Session.EnvFile, envFile; got != want {
		t.Fatalf("envFile not resolved: got %q want %q", got, want)
	}

	calendar := doc.Services["calendar"]
	if calendar == nil {
		t.Fatalf("service calendar missing")
	}
	if got, want := calendar.ResolvedWorkdir, workdir; got != want {
		t.Fatalf("resolved workdir mismatch: got %q want %q", got, want)
	}
	if got, want := calendar.Env["GOOGLE_API_KEY"], "alpha"; got != want {
		t.Fatalf("env file value mismatch: got %q want %q", got, want)
	}
	if calendar.Health == nil || calendar.Health.TCP == nil {
		t.Fatalf("tcp probe not loaded")
	}
	if got, want := calendar.Health.Interval.Duration, 2*time.Second; got != want {
		t.Fatalf("interval default mismatch: got %v want %v", got, want)
	}
	if got, want := calendar.Health.Timeout.Duration, time.Second; got != want {
		t.Fatalf("timeout default mismatch: got %v want %v", got, want)
	}
	if got, want := calendar.Health.FailureThreshold, 3; got != want {
		t.Fatalf("failure threshold mismatch: got %d want %d", got, want)
	}

	agent := doc.Services["agent"]
	if agent == nil {
		t.Fatalf("service agent missing")
	}
	if got, want := agent.Env["MODEL"], "gemini-2.5-flash"; got != want {
		t.Fatalf("env expansion mismatch: got %q want %q", got, want)
	}
	if got, want := agent.Env["CALENDAR_PORT"], "3000"; got != want {
		t.Fatalf("session env not merged into foreground: got %q want %q", got, want)
	}
}

func TestLoadMissingSessionEnvFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "atlas.yaml")
	manifest := []byte(`version: 0.1
session:
  name: atlas
  envFile: ./does-not-exist.env
services:
  agent:
    role: foreground
    command: ["/bin/true"]
`)
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	doc, err := Load(manifestPath)
	if err != nil {
		t.Fatalf("Load returned error for missing env file: %v", err)
	}
	if doc.Services["agent"].Env != nil {
		t.Fatalf("expected no environment overrides, got %#v", doc.Services["agent"].Env)
	}
}

func TestLoadMissingServiceEnvFileFails(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "atlas.yaml")
	manifest := []byte(`version: 0.1
session:
  name: atlas
services:
  agent:
    role: foreground
    command: ["/bin/true"]
    envFromFile: ./does-not-exist.env
`)
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	if _, err := Load(manifestPath); err == nil {
		t.Fatalf("expected error for missing service env file")
	} else if !strings.Contains(err.Error(), "envFromFile") {
		t.Fatalf("error does not name the field: %v", err)
	}
}

func TestLoadEnvFileParsing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vars.env")
	contents := strings.Join([]string{
		"# comment",
		"",
		"export EXPORTED=yes",
		`DOUBLE="quoted value"`,
		"SINGLE='single # not comment'",
		"TRAILING=value # comment stripped",
		"EXPANDED=${ENVFILE_TEST_VALUE}",
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENVFILE_TEST_VALUE", "expanded")

	values, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile returned error: %v", err)
	}

	want := map[string]string{
		"EXPORTED": "yes",
		"DOUBLE":   "quoted value",
		"SINGLE":   "single # not comment",
		"TRAILING": "value",
		"EXPANDED": "expanded",
	}
	for key, wantValue := range want {
		if got := values[key]; got != wantValue {
			t.Fatalf("value mismatch for %s: got %q want %q", key, got, wantValue)
		}
	}
	if len(values) != len(want) {
		t.Fatalf("unexpected keys: got %#v", values)
	}
}

func TestLoadEnvFileInvalidLines(t *testing.T) {
	cases := []struct {
		name     string
		contents string
	}{
		{name: "missing separator", contents: "NOVALUE\n"},
		{name: "empty key", contents: "=value\n"},
		{name: "unmatched double quote", contents: "KEY=\"oops\n"},
		{name: "unmatched single quote", contents: "KEY='oops\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "vars.env")
			if err := os.WriteFile(path, []byte(tc.contents), 0o644); err != nil {
				t.Fatalf("write env file: %v", err)
			}
			if _, err := LoadEnvFile(path); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "atlas.yaml")
	manifest := []byte(`version: 0.1
session:
  name: atlas
services:
  agent:
    role: foreground
    command: ["/bin/true"]
    restartPolicy: always
`)
	if err := os.WriteFile(manifestPath, manifest, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Load(manifestPath); err == nil {
		t.Fatalf("expected strict decode error for unknown field")
	}
}
