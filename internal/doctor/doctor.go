// Package doctor runs local diagnostics for `gnomato doctor`.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gitter-badger/gnomato/internal/config"
	"github.com/gitter-badger/gnomato/internal/ipc"
	"github.com/gitter-badger/gnomato/internal/persistence"
	"github.com/gitter-badger/gnomato/internal/shared"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// connectSession is replaced in tests.
var connectSession = ipc.ConnectSession

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkEnvironment,
		checkPermissions,
		checkDatabase,
		checkSessionBus,
		checkTelemetry,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsDefault {
		return CheckResult{
			Name:    "Config",
			Status:  "WARN",
			Message: "config.yaml missing, defaults in use",
			Detail:  "It is written on the next daemon start",
		}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir)),
		Detail:  cfg.Fingerprint(),
	}
}

func checkEnvironment(_ context.Context, _ *config.Config) CheckResult {
	var vars []string
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(key, "GNOMATO_") || strings.HasPrefix(key, "OTEL_") || key == "DBUS_SESSION_BUS_ADDRESS" {
			vars = append(vars, key+"="+shared.RedactEnvValue(key, value))
		}
	}
	sort.Strings(vars)
	if len(vars) == 0 {
		return CheckResult{Name: "Environment", Status: "PASS", Message: "No overrides set"}
	}
	return CheckResult{
		Name:    "Environment",
		Status:  "PASS",
		Message: fmt.Sprintf("%d relevant variables set", len(vars)),
		Detail:  strings.Join(vars, " "),
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	info, err := os.Stat(cfg.HomeDir)
	if err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unreadable: %v", err)}
	}
	if !info.IsDir() {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("%s is not a directory", cfg.HomeDir)}
	}

	testFile := fmt.Sprintf("%s/.write_test", cfg.HomeDir)
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return CheckResult{
			Name:    "Permissions",
			Status:  "WARN",
			Message: fmt.Sprintf("Home directory mode is %04o, expected 0700", perm),
			Detail:  fmt.Sprintf("chmod 700 %s", cfg.HomeDir),
		}
	}
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory private and writable"}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := os.Stat(cfg.DBPath); errors.Is(err, os.ErrNotExist) {
		return CheckResult{
			Name:    "Database",
			Status:  "WARN",
			Message: fmt.Sprintf("%s does not exist yet", cfg.DBPath),
			Detail:  "It is created on the next daemon start",
		}
	}

	store, err := persistence.Open(ctx, cfg.DBPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Connection failed: %v", err)}
	}
	defer store.Close()

	pending, err := store.ListPending(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{
		Name:    "Database",
		Status:  "PASS",
		Message: "Connection and schema valid",
		Detail:  fmt.Sprintf("path=%s, pending_tasks=%d", cfg.DBPath, len(pending)),
	}
}

func checkSessionBus(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Session Bus", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Bus.Enabled {
		return CheckResult{Name: "Session Bus", Status: "SKIP", Message: "State publisher disabled"}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := connectSession(dialCtx)
	if err != nil {
		// The daemon runs without IPC in this case.
		return CheckResult{
			Name:    "Session Bus",
			Status:  "WARN",
			Message: fmt.Sprintf("Session bus unavailable: %v", err),
			Detail:  "GetElapsedTime will not be published",
		}
	}
	defer conn.Close()

	owned, err := ipc.NameOwned(dialCtx, conn, cfg.Bus.Name)
	if err != nil {
		return CheckResult{Name: "Session Bus", Status: "WARN", Message: err.Error()}
	}
	status := "not owned (daemon not running)"
	if owned {
		status = "owned"
	}
	return CheckResult{
		Name:    "Session Bus",
		Status:  "PASS",
		Message: "Session bus reachable",
		Detail:  fmt.Sprintf("%s is %s", cfg.Bus.Name, status),
	}
}

func checkTelemetry(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Telemetry", Status: "SKIP", Message: "Config missing"}
	}
	t := cfg.Telemetry
	if !t.Enabled {
		return CheckResult{Name: "Telemetry", Status: "SKIP", Message: "Telemetry disabled"}
	}
	if t.Exporter != "otlp-http" {
		return CheckResult{Name: "Telemetry", Status: "PASS", Message: fmt.Sprintf("Exporter %q needs no network", t.Exporter)}
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	hostport := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		hostport = u.Host
	}

	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	conn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", hostport)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Telemetry",
			Status:  "WARN",
			Message: fmt.Sprintf("Collector unreachable at %s", shared.Redact(endpoint)),
			Detail:  fmt.Sprintf("error=%v, latency=%dms", err, latency.Milliseconds()),
		}
	}
	_ = conn.Close()
	return CheckResult{
		Name:    "Telemetry",
		Status:  "PASS",
		Message: fmt.Sprintf("Collector reachable at %s (%dms)", shared.Redact(endpoint), latency.Milliseconds()),
	}
}
