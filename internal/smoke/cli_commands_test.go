package smoke

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func runCLI(t *testing.T, bin, home string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Env = gnomatoEnv(home)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return stdout.String(), 0
	}
	var exitErr *exec.ExitError
	if !asExitError(err, &exitErr) {
		t.Fatalf("run %v: %v", args, err)
	}
	return stdout.String() + stderr.String(), exitErr.ExitCode()
}

func TestSmoke_CLITasksRoundTrip(t *testing.T) {
	bin := buildGnomatoBinary(t)
	home := filepath.Join(t.TempDir(), ".gnomato")

	if out, code := runCLI(t, bin, home, "tasks", "add", "Write", "spec"); code != 0 || !strings.Contains(out, "added task 1") {
		t.Fatalf("tasks add: code=%d out=%q", code, out)
	}
	out, code := runCLI(t, bin, home, "tasks")
	if code != 0 || !strings.Contains(out, "Write spec") {
		t.Fatalf("tasks list: code=%d out=%q", code, out)
	}
	if out, code := runCLI(t, bin, home, "tasks", "done", "1"); code != 0 {
		t.Fatalf("tasks done: code=%d out=%q", code, out)
	}
	if out, _ := runCLI(t, bin, home, "tasks"); strings.Contains(out, "Write spec") {
		t.Fatalf("done task still listed: %q", out)
	}
	if _, code := runCLI(t, bin, home, "tasks", "rm", "abc"); code != 2 {
		t.Fatalf("tasks rm abc: code=%d, want 2", code)
	}
}

func TestSmoke_CLIDoctorJSON(t *testing.T) {
	bin := buildGnomatoBinary(t)
	home := filepath.Join(t.TempDir(), ".gnomato")

	out, code := runCLI(t, bin, home, "doctor", "-json")
	if code != 0 {
		t.Fatalf("doctor -json: code=%d out=%q", code, out)
	}
	var diag struct {
		Results []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"results"`
	}
	if err := json.Unmarshal([]byte(out), &diag); err != nil {
		t.Fatalf("doctor output is not JSON: %v\n%s", err, out)
	}
	names := map[string]string{}
	for _, r := range diag.Results {
		names[r.Name] = r.Status
	}
	for _, name := range []string{"Config", "Permissions", "Database", "Session Bus", "Telemetry"} {
		if _, ok := names[name]; !ok {
			t.Fatalf("doctor output missing %s check: %#v", name, names)
		}
	}
	if names["Session Bus"] != "SKIP" {
		t.Fatalf("session bus check should skip when disabled, got %s", names["Session Bus"])
	}
}

func TestSmoke_CLIUnknownCommand(t *testing.T) {
	bin := buildGnomatoBinary(t)
	home := filepath.Join(t.TempDir(), ".gnomato")
	if _, code := runCLI(t, bin, home, "frobnicate"); code != 2 {
		t.Fatalf("unknown command: code=%d, want 2", code)
	}
}
