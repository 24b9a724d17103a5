package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromYAML(t *testing.T) {
	data := []byte(`branch:
  name: riga
notifications:
  buffer: 16
  webhooks:
    - url: https://example.com/hooks/branchline
      secret: s3cret
      types: [project_completed]
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Branch.Name != "riga" {
		t.Fatalf("branch %q", cfg.Branch.Name)
	}
	if cfg.Notifications.Buffer != 16 {
		t.Fatalf("buffer %d", cfg.Notifications.Buffer)
	}
	if len(cfg.Notifications.Webhooks) != 1 || cfg.Notifications.Webhooks[0].Secret != "s3cret" {
		t.Fatalf("webhooks %v", cfg.Notifications.Webhooks)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing branch name", "branch:\n  name: \"\"\n"},
		{"negative buffer", "branch:\n  name: main\nnotifications:\n  buffer: -1\n"},
		{"webhook without url", "branch:\n  name: main\nnotifications:\n  webhooks:\n    - secret: x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromYAML([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadOptionalDefaults(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Branch.Name != "main" || cfg.Notifications.Buffer != 64 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branchline.yml")
	if err := os.WriteFile(path, []byte(GenerateDefault("vilnius")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Branch.Name != "vilnius" {
		t.Fatalf("branch %q", cfg.Branch.Name)
	}
	if !strings.Contains(GenerateDefault(""), "name: main") {
		t.Fatalf("empty branch should default to main")
	}
}
