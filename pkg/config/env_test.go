package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	if got := GetEnv("API_BASE_URL", "http://localhost/api"); got != "http://localhost/api" {
		t.Fatalf("expected default, got %s", got)
	}
	t.Setenv("API_BASE_URL", "https://secondkeeper.test/api")
	if got := GetEnv("API_BASE_URL", "http://localhost/api"); got != "https://secondkeeper.test/api" {
		t.Fatalf("expected env value, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "")
	if got := GetEnvInt("RECONNECT_MAX_ATTEMPTS", 5); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "8")
	if got := GetEnvInt("RECONNECT_MAX_ATTEMPTS", 5); got != 8 {
		t.Fatalf("expected 8, got %d", got)
	}
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "many")
	if got := GetEnvInt("RECONNECT_MAX_ATTEMPTS", 5); got != 5 {
		t.Fatalf("expected 5 on parse error, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("SEND_START_ON_OPEN", "")
	if got := GetEnvBool("SEND_START_ON_OPEN", true); got != true {
		t.Fatalf("expected true default, got %v", got)
	}
	t.Setenv("SEND_START_ON_OPEN", "false")
	if got := GetEnvBool("SEND_START_ON_OPEN", true); got != false {
		t.Fatalf("expected false, got %v", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 3 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"45", 45 * time.Second},
		{"-2s", 3 * time.Second},
		{"soon", 3 * time.Second},
	}
	for _, tc := range cases {
		t.Setenv("METRICS_POLL_INTERVAL", tc.raw)
		if got := GetEnvDuration("METRICS_POLL_INTERVAL", 3*time.Second); got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.raw, tc.want, got)
		}
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("REDIS_ADDRS", " a:6379, ,b:6379 ")
	if got := GetEnvList("REDIS_ADDRS"); !reflect.DeepEqual(got, []string{"a:6379", "b:6379"}) {
		t.Fatalf("unexpected list: %#v", got)
	}
	t.Setenv("REDIS_ADDRS", "")
	if got := GetEnvList("REDIS_ADDRS"); got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if GetLogLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	t.Setenv("LOG_LEVEL", "WARN")
	if GetLogLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level")
	}
	t.Setenv("LOG_LEVEL", "")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level by default")
	}
}

func TestLoadEnvReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ALERT_CHANNEL=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("ALERT_CHANNEL", "")

	LoadEnv(nil)

	if got := os.Getenv("ALERT_CHANNEL"); got != "from-file" {
		t.Fatalf("expected value from .env, got %q", got)
	}
}
