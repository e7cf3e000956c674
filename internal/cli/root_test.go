package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/drksbr/facecam/internal/runtime"
	"github.com/drksbr/facecam/internal/version"
)

func TestVersionSkipsConfig(t *testing.T) {
	opts := &runtime.Options{ConfigPath: "/nonexistent/facecam.yaml"}
	cmd := newRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out.String()) != version.Version {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	cmd := newRootCommand(&runtime.Options{})
	for _, name := range []string{"run", "snap", "sink", "version"} {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}
	for _, flag := range []string{"config", "env-file", "log-level", "json-logs"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing global flag --%s", flag)
		}
	}
}

func TestBadConfigFailsBeforeRunning(t *testing.T) {
	opts := &runtime.Options{ConfigPath: "/nonexistent/facecam.yaml"}
	cmd := newRootCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"snap"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected config load error")
	}
}
