package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vladislavdragonenkov/sweetbar-oms/internal/app"
)

func executeWith(t *testing.T, run runner, args ...string) error {
	t.Helper()

	cmd := newRootCommand(run)
	cmd.SetArgs(append([]string{}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestRootCommand_Defaults(t *testing.T) {
	t.Setenv(configEnv, "")

	var got app.Config
	err := executeWith(t, func(_ context.Context, cfg app.Config) error {
		got = cfg
		return nil
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got.HTTPAddr != app.DefaultConfig().HTTPAddr {
		t.Fatalf("expected default http addr, got %s", got.HTTPAddr)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order-service.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":18081\"\nlog:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var got app.Config
	err := executeWith(t, func(_ context.Context, cfg app.Config) error {
		got = cfg
		return nil
	}, "--config", path)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got.HTTPAddr != ":18081" || got.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestRootCommand_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(path, []byte("grpc:\n  addr: \":50055\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configEnv, path)

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.GRPCAddr != ":50055" {
		t.Fatalf("unexpected grpc addr %s", cfg.GRPCAddr)
	}
}

func TestRootCommand_CanceledIsNotAnError(t *testing.T) {
	t.Setenv(configEnv, "")

	err := executeWith(t, func(context.Context, app.Config) error {
		return context.Canceled
	})
	if err != nil {
		t.Fatalf("context.Canceled should be treated as clean shutdown, got %v", err)
	}
}

func TestRootCommand_PropagatesErrors(t *testing.T) {
	t.Setenv(configEnv, "")

	boom := errors.New("listen: address in use")
	if err := executeWith(t, func(context.Context, app.Config) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected run error, got %v", err)
	}

	if err := executeWith(t, func(context.Context, app.Config) error { return nil }, "--config", "/does/not/exist.yaml"); err == nil {
		t.Fatal("expected config error")
	}
}
