package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("browser:\n  start_url: https://teams.microsoft.com/v2/\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.StartURL != "https://teams.microsoft.com/v2/" {
		t.Errorf("start_url: got %q", cfg.Browser.StartURL)
	}
	if cfg.Collect.SettleDelay != 3*time.Second {
		t.Errorf("settle_delay: got %v, want 3s", cfg.Collect.SettleDelay)
	}
	if cfg.Collect.ConfirmRepeats != 5 {
		t.Errorf("confirm_repeats: got %d, want 5", cfg.Collect.ConfirmRepeats)
	}
	if cfg.Collect.ThreadWait != 8*time.Second || cfg.Collect.ThreadSearchSteps != 40 {
		t.Errorf("thread defaults: got %v/%d, want 8s/40", cfg.Collect.ThreadWait, cfg.Collect.ThreadSearchSteps)
	}
	if cfg.Assets.Workers != 4 {
		t.Errorf("workers: got %d, want 4", cfg.Assets.Workers)
	}
	if cfg.Trigger.PollInterval != 2*time.Second {
		t.Errorf("poll_interval: got %v, want 2s", cfg.Trigger.PollInterval)
	}
	for _, f := range []string{"html", "json", "markdown"} {
		if !cfg.HasFormat(f) {
			t.Errorf("format %s not enabled by default", f)
		}
	}
}

func TestParse_Overrides(t *testing.T) {
	doc := `
collect:
  settle_delay: 500ms
  confirm_repeats: 3
  scroll_input: keyboard
output:
  formats: [json]
  timezone: UTC
sinks:
  - type: webhook
    url: http://localhost:9000/hook
selectors:
  profiles:
    - name: teams
      version: "2024-10-01"
      roles:
        scroll_container: "[data-tid=message-pane-list-viewport]"
        message: "[data-tid=chat-pane-item]"
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Collect.SettleDelay != 500*time.Millisecond {
		t.Errorf("settle_delay: got %v", cfg.Collect.SettleDelay)
	}
	if cfg.Collect.ScrollInput != "keyboard" {
		t.Errorf("scroll_input: got %q", cfg.Collect.ScrollInput)
	}
	if cfg.HasFormat("html") {
		t.Error("html should be disabled")
	}
	if cfg.Sinks[0].Retries != 3 {
		t.Errorf("webhook retries: got %d, want 3", cfg.Sinks[0].Retries)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("location: got %v, %v", loc, err)
	}
	profiles, err := cfg.Profiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].Roles["message"] != "[data-tid=chat-pane-item]" {
		t.Errorf("profiles: got %+v", profiles)
	}
}

func TestLoadFile_ProfilesDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "profiles")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	prof := "name: slack\nversion: \"1\"\nroles:\n  scroll_container: .c-virtual_list__scroll_container\n  message: .c-message_kit__message\n"
	if err := os.WriteFile(filepath.Join(dir, "slack.yaml"), []byte(prof), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(root, "scrollback.yaml")
	if err := os.WriteFile(cfgPath, []byte("selectors:\n  dir: "+dir+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	profiles, err := cfg.Profiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 1 || profiles[0].Name != "slack" {
		t.Errorf("profiles: got %+v", profiles)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("collect: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
