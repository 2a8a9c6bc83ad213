package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifestFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestCheckCommandPrintsStartupPlan(t *testing.T) {
	t.Parallel()

	path := writeManifestFile(t, `version: 0.1
session:
  name: atlas
services:
  calendar:
    role: sidecar
    command: ["sleep", "30"]
    health:
      tcp:
        address: 127.0.0.1:3000
  cache:
    role: sidecar
    command: ["sleep", "30"]
    warmup: 2s
  agent:
    role: foreground
    command: ["sleep", "0"]
`)

	ctx := &context{manifestFile: &path}
	cmd := newCheckCmd(ctx)
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)

	if err := cmd.Execute(); err != nil {
		t.Fatalf("check command failed: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "Session atlas loaded from") {
		t.Fatalf("expected session header, got:\n%s", out)
	}

	cachePos := strings.Index(out, "1. cache (sidecar, warmup 2s)")
	calendarPos := strings.Index(out, "2. calendar (sidecar, tcp probe 127.0.0.1:3000)")
	agentPos := strings.Index(out, "3. agent (foreground)")
	if cachePos < 0 || calendarPos < 0 || agentPos < 0 {
		t.Fatalf("expected full startup plan, got:\n%s", out)
	}
	if !(cachePos < calendarPos && calendarPos < agentPos) {
		t.Fatalf("expected sidecars in name order before foreground, got:\n%s", out)
	}
}

func TestCheckCommandPrintsSchema(t *testing.T) {
	t.Parallel()

	path := "unused.yaml"
	ctx := &context{manifestFile: &path}
	cmd := newCheckCmd(ctx)
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)
	cmd.SetArgs([]string{"--print-schema"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("check --print-schema failed: %v", err)
	}
	if !strings.Contains(stdout.String(), `"atlasd session manifest"`) {
		t.Fatalf("expected schema output, got:\n%s", stdout.String())
	}
}

func TestCheckCommandRejectsInvalidManifest(t *testing.T) {
	t.Parallel()

	path := writeManifestFile(t, `version: 0.1
session:
  name: atlas
services:
  agent:
    role: foreground
    command: ["sleep", "0"]
    warmup: 2s
`)

	ctx := &context{manifestFile: &path}
	cmd := newCheckCmd(ctx)
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stdout)

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected validation error for foreground warmup")
	}
}
