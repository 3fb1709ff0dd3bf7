package metactl

import (
	"bytes"
	"context"
	"flag"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("metactl", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-op", "create-user", "-name", "Alice"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "data/metadata.db" {
		t.Fatalf("db path = %q, want data/metadata.db", cfg.DBPath)
	}
	if cfg.Op != "create-user" {
		t.Fatalf("op = %q, want create-user", cfg.Op)
	}
	if cfg.Name != "Alice" {
		t.Fatalf("name = %q, want Alice", cfg.Name)
	}
}

func TestRunCreateUserAndKey(t *testing.T) {
	dbPath := t.TempDir() + "/metadata.db"
	ctx := context.Background()

	var out bytes.Buffer
	if err := Run(ctx, Config{
		DBPath: dbPath,
		Op:     "create-user",
		UserID: "user-1",
		OrgID:  "org-1",
		Name:   "Alice",
	}, &out); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !strings.Contains(out.String(), "user user-1 created") {
		t.Fatalf("output = %q, want created message", out.String())
	}

	out.Reset()
	if err := Run(ctx, Config{
		DBPath: dbPath,
		Op:     "create-key",
		UserID: "user-1",
		Name:   "laptop",
	}, &out); err != nil {
		t.Fatalf("create key: %v", err)
	}
	key := strings.TrimSpace(out.String())
	if !strings.HasPrefix(key, "sk-") {
		t.Fatalf("key = %q, want sk- prefix", key)
	}

	out.Reset()
	if err := Run(ctx, Config{DBPath: dbPath, Op: "list-keys", UserID: "user-1"}, &out); err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if !strings.Contains(out.String(), key) {
		t.Fatalf("list output = %q, want key %q", out.String(), key)
	}
}

func TestRunRejectsUnknownOperation(t *testing.T) {
	dbPath := t.TempDir() + "/metadata.db"
	if err := Run(context.Background(), Config{DBPath: dbPath, Op: "drop-everything"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("unknown operation succeeded, want error")
	}
	if err := Run(context.Background(), Config{DBPath: dbPath}, &bytes.Buffer{}); err == nil {
		t.Fatalf("missing operation succeeded, want error")
	}
}
