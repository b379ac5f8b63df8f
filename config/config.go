package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"crimson-pen/apperrors"
)

const ENV_FILE = ".env"
const CONFIG_FILE = "config.yaml"

type AppConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Timezone   string           `yaml:"timezone"`
	Generation GenerationConfig `yaml:"generation"`
	Research   ResearchConfig   `yaml:"research"`
	Schema     SchemaConfig     `yaml:"schema"`
	Tagging    TaggingConfig    `yaml:"tagging"`
	History    HistoryConfig    `yaml:"history"`
	Mongo      MongoConfig      `yaml:"mongo"`
	Render     RenderConfig     `yaml:"render"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	API        APIConfig        `yaml:"api"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// GenerationConfig describes how the generation service is driven.
type GenerationConfig struct {
	// APIKeyEnv names the environment variable holding the Gemini API key.
	APIKeyEnv         string        `yaml:"api_key_env"`
	SystemInstruction string        `yaml:"system_instruction"`
	Prompt            string        `yaml:"prompt"`
	Candidates        []Candidate   `yaml:"candidates"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	Retry             RetryConfig   `yaml:"retry"`
	RateLimitRetry    RetryConfig   `yaml:"rate_limit_retry"`
	Quota             QuotaConfig   `yaml:"quota"`
	LogAttempts       bool          `yaml:"log_attempts"`
}

// Candidate is one service endpoint to try, in order.
type Candidate struct {
	Model            string `yaml:"model"`
	GoogleSearch     bool   `yaml:"google_search"`
	ResponseMIMEType string `yaml:"response_mime_type"`
	MaxAttempts      int    `yaml:"max_attempts"`
}

type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

type RetryConfig struct {
	Mode    RetryBackoffMode `yaml:"mode"`
	Initial time.Duration    `yaml:"initial"`
	Max     time.Duration    `yaml:"max"`
}

// QuotaConfig 는 생성 API 호출에 대한 속도/일일 한도를 정의한다.
type QuotaConfig struct {
	// 0 이하면 제한 없음으로 간주한다.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	// ResetZone 는 일일 카운터가 초기화되는 기준 시간대다. 비어 있으면 UTC.
	ResetZone string `yaml:"reset_zone"`
}

// ResearchConfig enables the grounded research call that precedes writing.
type ResearchConfig struct {
	Enabled     bool         `yaml:"enabled"`
	Prompt      string       `yaml:"prompt"`
	Candidates  []Candidate  `yaml:"candidates"`
	Feeds       []FeedSource `yaml:"feeds"`
	FeedLimit   int          `yaml:"feed_limit"`
	LeadArticle bool         `yaml:"lead_article"`
	LeadMaxChar int          `yaml:"lead_max_chars"`
}

type FeedSource struct {
	Name   string `yaml:"name"`
	RSSURL string `yaml:"rss_url"`
}

// SchemaConfig is the active record schema variant.
type SchemaConfig struct {
	Languages             []string `yaml:"languages"`
	RequiredFields        []string `yaml:"required_fields"`
	BodyField             string   `yaml:"body_field"`
	GlossaryField         string   `yaml:"glossary_field"`
	GlossaryTermKey       string   `yaml:"glossary_term_key"`
	GlossaryDefinitionKey string   `yaml:"glossary_definition_key"`
}

type TaggingConfig struct {
	Enabled   *bool  `yaml:"enabled"`
	SpanClass string `yaml:"span_class"`
	Attribute string `yaml:"attribute"`
}

type HistoryConfig struct {
	// Backend is "file" or "mongo".
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
	LockFile   string `yaml:"lock_file"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RenderConfig struct {
	TemplatesDir      string `yaml:"templates_dir"`
	FeedTemplate      string `yaml:"feed_template"`
	PermalinkTemplate string `yaml:"permalink_template"`
	OutputDir         string `yaml:"output_dir"`
	FeedFile          string `yaml:"feed_file"`
	PermalinkDir      string `yaml:"permalink_dir"`
}

type MetricsConfig struct {
	// Textfile is a node_exporter textfile collector path; empty disables export.
	Textfile string `yaml:"textfile"`
}

type DaemonConfig struct {
	At string `yaml:"at"`
}

type APIConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

var config *AppConfig

func InitApp() {
	// load environment variables
	godotenv.Load(filepath.Join(GetBasePath(), ENV_FILE))

	c, err := Load(filepath.Join(GetBasePath(), CONFIG_FILE))
	if err != nil {
		panic(err)
	}
	config = c
}

// InitFromFile loads an explicit configuration file and installs it as the
// process configuration. The .env file next to it is loaded first.
func InitFromFile(path string) error {
	godotenv.Load(filepath.Join(filepath.Dir(path), ENV_FILE))

	c, err := Load(path)
	if err != nil {
		return err
	}
	config = c
	return nil
}

func GetConfig() AppConfig {
	if config == nil {
		InitApp()
	}

	return *config
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfig, "read configuration").
			WithContext("path", path)
	}
	return Parse(data)
}

// Parse decodes yaml, applies defaults and validates.
func Parse(data []byte) (*AppConfig, error) {
	var c AppConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindConfig, "decode configuration")
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero values with the publisher defaults.
func (c *AppConfig) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if lv := os.Getenv("LOG_LEVEL"); lv != "" {
		c.Logging.Level = lv
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Tokyo"
	}

	g := &c.Generation
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "GEMINI_API_KEY"
	}
	if len(g.Candidates) == 0 {
		g.Candidates = []Candidate{{Model: "gemini-3-flash-preview"}}
	}
	defaultCandidates(g.Candidates, 3)
	if g.RequestTimeout <= 0 {
		g.RequestTimeout = 2 * time.Minute
	}
	if g.Retry.Mode == "" {
		g.Retry = RetryConfig{Mode: RetryBackoffLinear, Initial: 10 * time.Second, Max: time.Minute}
	}
	if g.RateLimitRetry.Mode == "" {
		g.RateLimitRetry = RetryConfig{Mode: RetryBackoffExponential, Initial: 30 * time.Second, Max: 5 * time.Minute}
	}

	r := &c.Research
	if len(r.Candidates) == 0 {
		r.Candidates = []Candidate{{Model: g.Candidates[0].Model, GoogleSearch: true}}
	}
	defaultCandidates(r.Candidates, 2)
	if r.FeedLimit <= 0 {
		r.FeedLimit = 5
	}
	if r.LeadMaxChar <= 0 {
		r.LeadMaxChar = 2000
	}

	s := &c.Schema
	if len(s.RequiredFields) == 0 {
		s.RequiredFields = []string{"title", "content"}
	}
	if s.BodyField == "" {
		s.BodyField = "content"
	}
	if s.GlossaryField == "" {
		s.GlossaryField = "glossary"
	}
	if s.GlossaryTermKey == "" {
		s.GlossaryTermKey = "term"
	}
	if s.GlossaryDefinitionKey == "" {
		s.GlossaryDefinitionKey = "def"
	}

	if c.Tagging.SpanClass == "" {
		c.Tagging.SpanClass = "term"
	}
	if c.Tagging.Attribute == "" {
		c.Tagging.Attribute = "data-def"
	}

	if c.History.Backend == "" {
		c.History.Backend = "file"
	}
	if c.History.Path == "" {
		c.History.Path = "docs/data.json"
	}
	if c.History.MaxEntries <= 0 {
		c.History.MaxEntries = 100
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = "crimsonpen"
	}

	rc := &c.Render
	if rc.TemplatesDir == "" {
		rc.TemplatesDir = "."
	}
	if rc.FeedTemplate == "" {
		rc.FeedTemplate = "template_portal.html"
	}
	if rc.PermalinkTemplate == "" {
		rc.PermalinkTemplate = "template_article.html"
	}
	if rc.OutputDir == "" {
		rc.OutputDir = "docs"
	}
	if rc.FeedFile == "" {
		rc.FeedFile = "index.html"
	}
	if rc.PermalinkDir == "" {
		rc.PermalinkDir = "articles"
	}

	if c.Daemon.At == "" {
		c.Daemon.At = "06:00"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
}

func defaultCandidates(cs []Candidate, attempts int) {
	for i := range cs {
		if cs[i].MaxAttempts <= 0 {
			cs[i].MaxAttempts = attempts
		}
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *AppConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return apperrors.ConfigInvalid("timezone", err.Error())
	}
	if strings.TrimSpace(c.Generation.Prompt) == "" {
		return apperrors.ConfigInvalid("generation.prompt", "prompt is required")
	}
	for i, cand := range c.Generation.Candidates {
		if cand.Model == "" {
			return apperrors.ConfigInvalid(fmt.Sprintf("generation.candidates[%d].model", i), "model is required")
		}
	}
	if c.Research.Enabled && strings.TrimSpace(c.Research.Prompt) == "" {
		return apperrors.ConfigInvalid("research.prompt", "prompt is required when research is enabled")
	}
	if z := c.Generation.Quota.ResetZone; z != "" {
		if _, err := time.LoadLocation(z); err != nil {
			return apperrors.ConfigInvalid("generation.quota.reset_zone", err.Error())
		}
	}
	switch c.History.Backend {
	case "file":
	case "mongo":
		if c.Mongo.URI == "" {
			return apperrors.ConfigInvalid("mongo.uri", "required for the mongo history backend")
		}
	default:
		return apperrors.ConfigInvalid("history.backend", "must be file or mongo")
	}
	if _, _, err := c.Daemon.Clock(); err != nil {
		return apperrors.ConfigInvalid("daemon.at", err.Error())
	}
	return nil
}

// Location returns the configured publishing time zone.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TaggingEnabled defaults to true when unset.
func (t TaggingConfig) TaggingEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Clock parses At as HH:MM.
func (d DaemonConfig) Clock() (hour, minute uint, err error) {
	t, err := time.Parse("15:04", d.At)
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", d.At)
	}
	return uint(t.Hour()), uint(t.Minute()), nil
}

func GetBasePath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		cfgPath := filepath.Join(dir, CONFIG_FILE)
		if info, err := os.Stat(cfgPath); err == nil && !info.IsDir() {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
