package config

import (
	"strings"
	"testing"
	"time"
)

func TestWriteTimeoutCoversScrapeRetry(t *testing.T) {
	t.Setenv("SCRAPER_TIMEOUT", "120s")
	t.Setenv("SCRAPE_RETRY_DELAY", "5s")
	t.Setenv("WRITE_TIMEOUT", "")

	cfg := LoadConfig()
	if want := 275 * time.Second; cfg.Server.WriteTimeout != want {
		t.Fatalf("expected write timeout %s, got %s", want, cfg.Server.WriteTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsShortWriteTimeout(t *testing.T) {
	t.Setenv("SCRAPER_TIMEOUT", "120s")
	t.Setenv("SCRAPE_RETRY_DELAY", "5s")
	t.Setenv("WRITE_TIMEOUT", "150s")

	err := LoadConfig().Validate()
	if err == nil || !strings.Contains(err.Error(), "WRITE_TIMEOUT") {
		t.Fatalf("expected a WRITE_TIMEOUT error, got %v", err)
	}
}
