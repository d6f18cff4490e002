package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"polar-fitness-sync/internal/polar"
)

func writeAllowListFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write allow-list file: %v", err)
	}
	return path
}

func TestLoadAllowListDefaults(t *testing.T) {
	al, err := LoadAllowList("")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	for _, c := range polar.AllCategories {
		if len(al[c]) == 0 {
			t.Errorf("Expected default fields for %s", c)
		}
	}
	if _, ok := al[polar.CategorySleep]["sleep_goal"]; !ok {
		t.Error("Expected sleep_goal to be allowed by default")
	}
}

func TestLoadAllowListOverride(t *testing.T) {
	path := writeAllowListFile(t, "sleep:\n  - date\n  - sleep_score\n")

	al, err := LoadAllowList(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(al[polar.CategorySleep]) != 2 {
		t.Errorf("Expected 2 sleep fields, got %d", len(al[polar.CategorySleep]))
	}
	if _, ok := al[polar.CategorySleep]["light_sleep"]; ok {
		t.Error("Expected light_sleep to be removed by the override")
	}
	if _, ok := al[polar.CategoryActivities]["steps"]; !ok {
		t.Error("Expected activities to keep the default fields")
	}
}

func TestLoadAllowListUnknownCategory(t *testing.T) {
	path := writeAllowListFile(t, "heartRateZones:\n  - zone1\n")

	_, err := LoadAllowList(path)
	if err == nil {
		t.Fatal("Expected error for unknown category")
	}
	if !strings.Contains(err.Error(), "heartRateZones") {
		t.Errorf("Expected error to name the category, got %v", err)
	}
}

func TestLoadAllowListEmptyCategory(t *testing.T) {
	path := writeAllowListFile(t, "cardioLoad: []\n")

	if _, err := LoadAllowList(path); err == nil {
		t.Error("Expected error for empty category list")
	}
}

func TestLoadAllowListMissingFile(t *testing.T) {
	if _, err := LoadAllowList(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestAllowListFilter(t *testing.T) {
	al, err := NewAllowList(DefaultAllowList())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	doc := map[string]any{
		"date":        "2025-01-01",
		"steps":       float64(9000),
		"polar_user":  "https://www.polaraccesslink.com/v3/users/1",
		"device_info": map[string]any{"model": "Vantage"},
	}

	filtered := al.Filter(polar.CategoryActivities, doc)

	if len(filtered) != 2 {
		t.Errorf("Expected 2 fields, got %d: %v", len(filtered), filtered)
	}
	if filtered["steps"] != float64(9000) {
		t.Errorf("Expected steps 9000, got %v", filtered["steps"])
	}
	if _, ok := filtered["polar_user"]; ok {
		t.Error("Expected polar_user to be dropped")
	}
	if _, ok := doc["polar_user"]; !ok {
		t.Error("Expected input document to be left untouched")
	}
}
