// Package config loads the solrupdater configuration: a global Solr
// section plus per-source data source settings, state-store selection and
// observability wiring.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object, loaded from a single YAML or
// JSON file whose datasources section holds the per-source settings.
type Config struct {
	Solr          SolrConfig                    `json:"solr" yaml:"solr"`
	DataSources   map[string]DataSourceSettings  `json:"datasources" yaml:"datasources"`
	StateStore    StateStoreConfig               `json:"state_store" yaml:"state_store"`
	Observability ObservabilityConfig            `json:"observability" yaml:"observability"`
	Logging       LoggingConfig                  `json:"logging" yaml:"logging"`
}

// LoggingConfig controls the zerolog sink.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or console
}

// SolrConfig is the "Solr section" of the global config (spec.md §3).
type SolrConfig struct {
	UpdateURL                string            `json:"update_url" yaml:"update_url"`
	SearchURL                string            `json:"search_url" yaml:"search_url"`
	AdminURL                 string            `json:"admin_url" yaml:"admin_url"`
	Username                 string            `json:"username" yaml:"username"`
	Password                 string            `json:"password" yaml:"password"`
	MaxCommitInterval        int               `json:"max_commit_interval" yaml:"max_commit_interval"`
	MaxUpdateRecords         int               `json:"max_update_records" yaml:"max_update_records"`
	MaxUpdateSizeKiB         int               `json:"max_update_size" yaml:"max_update_size"`
	MaxUpdateTries           int               `json:"max_update_tries" yaml:"max_update_tries"`
	UpdateRetryWaitSeconds   int               `json:"update_retry_wait" yaml:"update_retry_wait"`
	RecordWorkers            int               `json:"record_workers" yaml:"record_workers"`
	SolrUpdateWorkers        int               `json:"solr_update_workers" yaml:"solr_update_workers"`
	ThreadedMergedUpdate     bool              `json:"threaded_merged_record_update" yaml:"threaded_merged_record_update"`
	ClusterStateCheckSeconds int               `json:"cluster_state_check_interval" yaml:"cluster_state_check_interval"`
	TrackUpdatesPerURL       bool              `json:"track_updates_per_update_url" yaml:"track_updates_per_update_url"`
	UnicodeNormalizationForm string            `json:"unicode_normalization_form" yaml:"unicode_normalization_form"`
	MergedFields             []string          `json:"merged_fields" yaml:"merged_fields"`
	SingleFields             []string          `json:"single_fields" yaml:"single_fields"`
	ScoredFields             []string          `json:"scored_fields" yaml:"scored_fields"`
	BuildingFields           []string          `json:"building_fields" yaml:"building_fields"`
	HierarchicalFacets       []string          `json:"hierarchical_facets" yaml:"hierarchical_facets"`
	CopyFromMergedRecord     []string          `json:"copy_from_merged_record" yaml:"copy_from_merged_record"`
	JournalFormats           []string          `json:"journal_formats" yaml:"journal_formats"`
	EJournalFormats          []string          `json:"ejournal_formats" yaml:"ejournal_formats"`
	WarningsField            string            `json:"warnings_field" yaml:"warnings_field"`
	FormatInAllFields        bool              `json:"format_in_allfields" yaml:"format_in_allfields"`
	IgnoreInComparison       []string          `json:"ignore_in_comparison" yaml:"ignore_in_comparison"`
	FieldOverrides           FieldOverrides    `json:"field_overrides" yaml:"field_overrides"`
	AuthorAlias              bool              `json:"author_alias_author2" yaml:"author_alias_author2"`
}

// FieldOverrides allows renaming the Solr field names the spec calls out
// by default name (dedup id, container fields, hierarchy fields, etc).
type FieldOverrides struct {
	DedupIDField          string `json:"dedup_id_field" yaml:"dedup_id_field"`
	ContainerTitleField   string `json:"container_title_field" yaml:"container_title_field"`
	ContainerVolumeField  string `json:"container_volume_field" yaml:"container_volume_field"`
	ContainerIssueField   string `json:"container_issue_field" yaml:"container_issue_field"`
	ContainerStartPageField string `json:"container_start_page_field" yaml:"container_start_page_field"`
	ContainerReferenceField string `json:"container_reference_field" yaml:"container_reference_field"`
	HierarchyTopIDField   string `json:"hierarchy_top_id_field" yaml:"hierarchy_top_id_field"`
	HierarchyParentIDField string `json:"hierarchy_parent_id_field" yaml:"hierarchy_parent_id_field"`
	HierarchyParentTitleField string `json:"hierarchy_parent_title_field" yaml:"hierarchy_parent_title_field"`
	IsHierarchyIDField    string `json:"is_hierarchy_id_field" yaml:"is_hierarchy_id_field"`
	IsHierarchyTitleField string `json:"is_hierarchy_title_field" yaml:"is_hierarchy_title_field"`
	WorkKeysField         string `json:"work_keys_field" yaml:"work_keys_field"`
}

// DataSourceSettings are the per-source options keyed by source id
// (spec.md §3).
type DataSourceSettings struct {
	Institution                      string            `json:"institution" yaml:"institution"`
	ComponentParts                   string            `json:"componentParts" yaml:"componentParts"` // as_is, merge_all, merge_non_earticles
	ComponentPartSourceID             []string          `json:"componentPartSourceId" yaml:"componentPartSourceId"`
	IndexMergedParts                 *bool             `json:"indexMergedParts" yaml:"indexMergedParts"`
	PreTransformation                string            `json:"preTransformation" yaml:"preTransformation"`
	Normalization                    string            `json:"normalization" yaml:"normalization"`
	SolrTransformation               string            `json:"solrTransformation" yaml:"solrTransformation"`
	IDPrefix                         string            `json:"idPrefix" yaml:"idPrefix"`
	IndexUnprefixedIDs               bool              `json:"indexUnprefixedIds" yaml:"indexUnprefixedIds"`
	Dedup                            bool              `json:"dedup" yaml:"dedup"`
	Index                            *bool             `json:"index" yaml:"index"`
	InstitutionInBuilding             string            `json:"institutionInBuilding" yaml:"institutionInBuilding"` // institution, driver, none, source, institution/source
	AddInstitutionToBuildingBeforeMapping bool          `json:"addInstitutionToBuildingBeforeMapping" yaml:"addInstitutionToBuildingBeforeMapping"`
	ExtraFields                      []string          `json:"extrafields" yaml:"extrafields"` // "name:value"
	Enrichments                      []string          `json:"enrichments" yaml:"enrichments"`
	NonIndexedSources                []string          `json:"nonIndexedSources" yaml:"nonIndexedSources"`
}

// IndexEnabled reports the effective value of the Index flag, defaulting
// to true when unset.
func (d DataSourceSettings) IndexEnabled() bool {
	return d.Index == nil || *d.Index
}

// IndexMergedPartsEnabled reports the effective value of IndexMergedParts,
// defaulting to true when unset (spec.md §3).
func (d DataSourceSettings) IndexMergedPartsEnabled() bool {
	return d.IndexMergedParts == nil || *d.IndexMergedParts
}

// StateStoreConfig selects and configures the checkpoint/queue-collection
// backend.
type StateStoreConfig struct {
	Type     string `json:"type" yaml:"type"` // sqlite, redis, etcd
	Path     string `json:"path" yaml:"path"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// ObservabilityConfig wires Prometheus + OTLP.
type ObservabilityConfig struct {
	MetricsAddr string     `json:"metrics_addr" yaml:"metrics_addr"`
	OTLP        OTLPConfig `json:"otlp" yaml:"otlp"`
}

// OTLPConfig configures the OpenTelemetry exporters.
type OTLPConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Protocol    string            `json:"protocol" yaml:"protocol"` // grpc or http
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
}

// RetryWait returns the configured retry wait as a time.Duration.
func (s SolrConfig) RetryWait() time.Duration {
	return time.Duration(s.UpdateRetryWaitSeconds) * time.Second
}

// ClusterCheckInterval returns the configured cluster check interval.
func (s SolrConfig) ClusterCheckInterval() time.Duration {
	return time.Duration(s.ClusterStateCheckSeconds) * time.Second
}

// MaxUpdateSizeBytes returns the configured byte-size flush trigger.
func (s SolrConfig) MaxUpdateSizeBytes() int {
	return s.MaxUpdateSizeKiB * 1024
}

// Load reads, env-substitutes and decodes a config file (YAML, with a JSON
// fallback for tooling that emits it that way).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		if jerr := json.Unmarshal([]byte(content), &cfg); jerr != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes cfg back out as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyDefaults(cfg *Config) {
	if cfg.Solr.MaxUpdateTries == 0 {
		cfg.Solr.MaxUpdateTries = 5
	}
	if cfg.Solr.UpdateRetryWaitSeconds == 0 {
		cfg.Solr.UpdateRetryWaitSeconds = 30
	}
	if cfg.Solr.RecordWorkers == 0 {
		cfg.Solr.RecordWorkers = 4
	}
	if cfg.Solr.SolrUpdateWorkers == 0 {
		cfg.Solr.SolrUpdateWorkers = 4
	}
	if cfg.Solr.MaxUpdateRecords == 0 {
		cfg.Solr.MaxUpdateRecords = 5000
	}
	if cfg.Solr.FieldOverrides.DedupIDField == "" {
		cfg.Solr.FieldOverrides.DedupIDField = "dedup_id_str_mv"
	}
	if cfg.Solr.FieldOverrides.ContainerTitleField == "" {
		cfg.Solr.FieldOverrides.ContainerTitleField = "container_title"
	}
	if cfg.Solr.FieldOverrides.ContainerVolumeField == "" {
		cfg.Solr.FieldOverrides.ContainerVolumeField = "container_volume"
	}
	if cfg.Solr.FieldOverrides.ContainerIssueField == "" {
		cfg.Solr.FieldOverrides.ContainerIssueField = "container_issue"
	}
	if cfg.Solr.FieldOverrides.ContainerStartPageField == "" {
		cfg.Solr.FieldOverrides.ContainerStartPageField = "container_start_page"
	}
	if cfg.Solr.FieldOverrides.ContainerReferenceField == "" {
		cfg.Solr.FieldOverrides.ContainerReferenceField = "container_reference"
	}
	if cfg.Solr.FieldOverrides.HierarchyParentIDField == "" {
		cfg.Solr.FieldOverrides.HierarchyParentIDField = "hierarchy_parent_id"
	}
	if cfg.Solr.FieldOverrides.HierarchyParentTitleField == "" {
		cfg.Solr.FieldOverrides.HierarchyParentTitleField = "hierarchy_parent_title"
	}
	if cfg.Solr.FieldOverrides.HierarchyTopIDField == "" {
		cfg.Solr.FieldOverrides.HierarchyTopIDField = "hierarchy_top_id"
	}
	if cfg.Solr.FieldOverrides.IsHierarchyIDField == "" {
		cfg.Solr.FieldOverrides.IsHierarchyIDField = "is_hierarchy_id"
	}
	if cfg.Solr.FieldOverrides.IsHierarchyTitleField == "" {
		cfg.Solr.FieldOverrides.IsHierarchyTitleField = "is_hierarchy_title"
	}
	if cfg.Solr.FieldOverrides.WorkKeysField == "" {
		cfg.Solr.FieldOverrides.WorkKeysField = "work_keys_str_mv"
	}
}

var envRegex = regexp.MustCompile(`\$\{(\w+)(?::-([^}]*))?\}`)

// SubstituteEnvVars expands ${VAR} and ${VAR:-default} references.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
