package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
bot:
  platform: telegram
  token: "123:abc"
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Database.Driver != "mysql" {
		t.Errorf("driver = %q, want mysql default", cfg.Database.Driver)
	}
	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 {
		t.Errorf("database defaults = %+v", cfg.Database)
	}
	if cfg.Database.Database != "fixline" {
		t.Errorf("database name = %q", cfg.Database.Database)
	}
	if cfg.Limits.CreateRequests != 5 || cfg.Limits.CreateWindow.Std() != 5*time.Minute {
		t.Errorf("create limits = %+v", cfg.Limits)
	}
	if cfg.Limits.AddComments != 10 || cfg.Limits.CommentWindow.Std() != 5*time.Minute {
		t.Errorf("comment limits = %+v", cfg.Limits)
	}
	if cfg.Intake.DraftTTL.Std() != time.Hour {
		t.Errorf("DraftTTL = %v", cfg.Intake.DraftTTL)
	}
	if cfg.SLA.OverdueAfter.Std() != 48*time.Hour || cfg.SLA.SweepInterval.Std() != time.Hour {
		t.Errorf("SLA = %+v", cfg.SLA)
	}
	if cfg.SLA.DigestCron != "0 9 * * *" {
		t.Errorf("DigestCron = %q", cfg.SLA.DigestCron)
	}
	if cfg.Dashboard.Addr != ":8090" {
		t.Errorf("dashboard addr = %q", cfg.Dashboard.Addr)
	}
}

func TestParse_Full(t *testing.T) {
	yaml := `
database:
  host: db.internal
  port: 3307
  user: fixline
  password: secret
  database: tickets
bot:
  platform: slack
  token: xoxb-1
  app_token: xapp-1
  channel: "#maintenance"
  admin_ids: ["U1", "U2"]
limits:
  create_requests: 3
  create_window: 10m
intake:
  draft_ttl: 30m
sla:
  overdue_after: 24h
  digest_cron: "0 8 * * 1-5"
dashboard:
  addr: ":9000"
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 3307 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Bot.AppToken != "xapp-1" || len(cfg.Bot.AdminIDs) != 2 {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if cfg.Limits.CreateRequests != 3 || cfg.Limits.CreateWindow.Std() != 10*time.Minute {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	// Unset limit fields still default.
	if cfg.Limits.AddComments != 10 {
		t.Errorf("AddComments = %d, want default 10", cfg.Limits.AddComments)
	}
	if cfg.Intake.DraftTTL.Std() != 30*time.Minute {
		t.Errorf("DraftTTL = %v", cfg.Intake.DraftTTL)
	}
	if cfg.SLA.OverdueAfter.Std() != 24*time.Hour {
		t.Errorf("OverdueAfter = %v", cfg.SLA.OverdueAfter)
	}
}

func TestParse_SQLiteDriver(t *testing.T) {
	yaml := minimalYAML + "database:\n  driver: sqlite\n  path: fixline.db\n"
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "fixline.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
}

func TestParse_SQLiteWithoutPath(t *testing.T) {
	yaml := minimalYAML + "database:\n  driver: sqlite\n"
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "database.path is required") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_UnknownDriver(t *testing.T) {
	yaml := minimalYAML + "database:\n  driver: postgres\n"
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), `"postgres"`) {
		t.Errorf("err = %v", err)
	}
}

func TestParse_MissingPlatform(t *testing.T) {
	_, err := Parse([]byte("bot:\n  token: abc\n"))
	if err == nil || !strings.Contains(err.Error(), "bot.platform is required") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_UnknownPlatform(t *testing.T) {
	_, err := Parse([]byte("bot:\n  platform: irc\n  token: abc\n"))
	if err == nil || !strings.Contains(err.Error(), `"irc"`) {
		t.Errorf("err = %v", err)
	}
}

func TestParse_MissingToken(t *testing.T) {
	_, err := Parse([]byte("bot:\n  platform: telegram\n"))
	if err == nil || !strings.Contains(err.Error(), "bot.token is required") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_BadDuration(t *testing.T) {
	yaml := minimalYAML + "intake:\n  draft_ttl: soon\n"
	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "bad duration") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("bot: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Platform != "telegram" {
		t.Errorf("platform = %q", cfg.Bot.Platform)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
