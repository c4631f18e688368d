package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"vellum/internal/config"
	"vellum/internal/testsupport"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
	if _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("init with --overwrite: %v", err)
	}
}

func TestStatusEmptyCorpus(t *testing.T) {
	cfgPath := writeTestConfig(t, testsupport.NewConfig(t))

	out, err := runCLI(t, "--config", cfgPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Corpus root:")
	requireContains(t, out, "downloaded")
	requireContains(t, out, "classify")
}

func TestClassifyPassOverSeededItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfgPath := writeTestConfig(t, cfg)

	source := filepath.Join(cfg.Paths.RootDir, "notes.txt")
	testsupport.WriteFile(t, source, 64)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.NewDownloadedItem(t, store, "https://example.com/notes.txt", source)

	out, err := runCLI(t, "--config", cfgPath, "classify")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	requireContains(t, out, "classify: 1 eligible, 1 processed")

	rec, ok := store.Get("https://example.com/notes.txt")
	if !ok {
		t.Fatal("item missing after pass")
	}
	if got := rec.Classification(); got != "other" {
		t.Fatalf("classification = %q, want other", got)
	}
}

func TestStagePassRootOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfgPath := writeTestConfig(t, cfg)
	altRoot := filepath.Join(t.TempDir(), "alt-corpus")

	out, err := runCLI(t, "--config", cfgPath, "classify", altRoot)
	if err != nil {
		t.Fatalf("classify with root override: %v", err)
	}
	requireContains(t, out, "classify: 0 eligible")
	if _, err := os.Stat(altRoot); err != nil {
		t.Fatalf("override root not created: %v", err)
	}
}

func TestRepairRewritesInventory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfgPath := writeTestConfig(t, cfg)

	// A trailing-garbage inventory exercises the salvage path end to end.
	if err := os.WriteFile(cfg.Paths.InventoryPath,
		[]byte(`{"https://example.com/a.pdf": {"status": "downloaded"}`), 0o644); err != nil {
		t.Fatalf("write corrupt inventory: %v", err)
	}

	out, err := runCLI(t, "--config", cfgPath, "repair")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	requireContains(t, out, "Inventory rewritten")

	store := testsupport.MustOpenStore(t, cfg)
	items := store.Load()
	if _, ok := items["https://example.com/a.pdf"]; !ok {
		t.Fatalf("salvaged item missing: %v", items)
	}
}

func TestPublishRequiresRemoteSettings(t *testing.T) {
	cfgPath := writeTestConfig(t, testsupport.NewConfig(t))

	if _, err := runCLI(t, "--config", cfgPath, "publish"); err == nil {
		t.Fatal("publish without project settings should fail")
	}
}
