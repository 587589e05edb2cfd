package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SOLR_UPDATE_URL", "http://solr:8983/update")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set var expands", "url: ${SOLR_UPDATE_URL}", "url: http://solr:8983/update"},
		{"unset var with default", "level: ${LOG_LEVEL:-info}", "level: info"},
		{"unset var without default is unchanged", "x: ${TOTALLY_UNSET_VAR}", "x: ${TOTALLY_UNSET_VAR}"},
		{"set var with default prefers env", "x: ${SOLR_UPDATE_URL:-fallback}", "x: http://solr:8983/update"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SubstituteEnvVars(tc.input); got != tc.want {
				t.Errorf("SubstituteEnvVars(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("solr:\n  update_url: http://solr/update\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Solr.MaxUpdateTries != 5 {
		t.Errorf("MaxUpdateTries = %d, want default 5", cfg.Solr.MaxUpdateTries)
	}
	if cfg.Solr.FieldOverrides.DedupIDField != "dedup_id_str_mv" {
		t.Errorf("DedupIDField = %q, want default", cfg.Solr.FieldOverrides.DedupIDField)
	}
}

func TestLoadExpandsEnvVarsBeforeDecoding(t *testing.T) {
	t.Setenv("SOLR_URL", "http://from-env/update")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("solr:\n  update_url: ${SOLR_URL}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Solr.UpdateURL != "http://from-env/update" {
		t.Errorf("UpdateURL = %q, want env-expanded value", cfg.Solr.UpdateURL)
	}
}

func TestIndexEnabledDefaultsTrue(t *testing.T) {
	var d DataSourceSettings
	if !d.IndexEnabled() {
		t.Error("expected IndexEnabled() to default true when Index is unset")
	}
	no := false
	d.Index = &no
	if d.IndexEnabled() {
		t.Error("expected IndexEnabled() to honor an explicit false")
	}
}

func TestIndexMergedPartsEnabledDefaultsTrue(t *testing.T) {
	var d DataSourceSettings
	if !d.IndexMergedPartsEnabled() {
		t.Error("expected IndexMergedPartsEnabled() to default true when unset")
	}
}

func TestSolrConfigDurationHelpers(t *testing.T) {
	s := SolrConfig{UpdateRetryWaitSeconds: 30, ClusterStateCheckSeconds: 5, MaxUpdateSizeKiB: 2}
	if s.RetryWait().Seconds() != 30 {
		t.Errorf("RetryWait() = %v", s.RetryWait())
	}
	if s.ClusterCheckInterval().Seconds() != 5 {
		t.Errorf("ClusterCheckInterval() = %v", s.ClusterCheckInterval())
	}
	if s.MaxUpdateSizeBytes() != 2048 {
		t.Errorf("MaxUpdateSizeBytes() = %d, want 2048", s.MaxUpdateSizeBytes())
	}
}
