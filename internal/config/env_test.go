package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile_missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nonexistent")); err != nil {
		t.Fatalf("missing file should return nil: %v", err)
	}
}

func TestLoadEnvFile_setsEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	data := "M3U_CURATOR_TEST_A=bar\n# comment\nM3U_CURATOR_TEST_B=\"hello world\"\nM3U_CURATOR_TEST_C=from-file\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("M3U_CURATOR_TEST_C", "from-env")
	t.Cleanup(func() {
		os.Unsetenv("M3U_CURATOR_TEST_A")
		os.Unsetenv("M3U_CURATOR_TEST_B")
	})
	if err := LoadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("M3U_CURATOR_TEST_A"); got != "bar" {
		t.Errorf("A = %q", got)
	}
	if got := os.Getenv("M3U_CURATOR_TEST_B"); got != "hello world" {
		t.Errorf("B = %q", got)
	}
	if got := os.Getenv("M3U_CURATOR_TEST_C"); got != "from-env" {
		t.Errorf("existing env should win; C = %q", got)
	}
}
