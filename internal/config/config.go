package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"adaparse/internal/errs"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Workflow is the document passed to `adaparse infer --config`.
type Workflow struct {
	// Directory searched recursively for PDFs
	PDFDir string `yaml:"pdf_dir" validate:"required"`

	ParserSettings Settings `yaml:"parser_settings"`
}

// Settings configures the parser and the batch loader.
type Settings struct {
	// Output directory for parsed_results.jsonl and per-document .mmd files
	MMDOut string `yaml:"mmd_out" validate:"required"`

	// Gemini model used for page transcription
	Model  string `yaml:"model" validate:"required"`
	APIKey string `yaml:"api_key"`

	// Loader
	BatchSize      int  `yaml:"batchsize" validate:"gte=1"`
	NumWorkers     int  `yaml:"num_workers" validate:"gte=1"`
	PrefetchFactor int  `yaml:"prefetch_factor" validate:"gte=1"`
	Recompute      bool `yaml:"recompute"`

	// Inference
	Skipping       bool   `yaml:"skipping"` // early stopping on repetitive output
	Markdown       bool   `yaml:"markdown"`
	DPI            int    `yaml:"dpi" validate:"gte=36,lte=600"`
	MaxRetries     int    `yaml:"max_retries" validate:"gte=0"`
	RequestTimeout string `yaml:"request_timeout"`

	NougatLogsPath string `yaml:"nougat_logs_path"`
	MetricsPath    string `yaml:"metrics_path"`
}

const defaultRequestTimeout = 2 * time.Minute

// DefaultConfig returns a workflow with every optional setting filled in.
func DefaultConfig() *Workflow {
	return &Workflow{
		ParserSettings: Settings{
			Model:          "gemini-2.5-flash",
			BatchSize:      10,
			NumWorkers:     1,
			PrefetchFactor: 4,
			Skipping:       true,
			Markdown:       true,
			DPI:            96,
			MaxRetries:     2,
			RequestTimeout: "2m",
		},
	}
}

// Load reads the workflow at path. A .env file next to it, if present, is loaded into
// the environment first. Unknown keys are rejected, and every problem with the
// document is reported as an *errs.ConfigurationError.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Config("config", "file %s does not exist", path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"))

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &errs.ConfigurationError{Field: "config", Reason: fmt.Sprintf("failed to parse %s: %v", path, err)}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the workflow as YAML.
func (c *Workflow) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// loadDotEnv is best effort; variables already set in the environment win.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Workflow) applyEnvOverrides() {
	// GEMINI_API_KEY takes precedence over GOOGLE_API_KEY, matching the genai SDK
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.ParserSettings.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.ParserSettings.APIKey = key
	}
	if model := os.Getenv("ADAPARSE_MODEL"); model != "" {
		c.ParserSettings.Model = model
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints. The first violation is returned as a
// ConfigurationError naming the YAML key.
func (c *Workflow) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errs.Config(fe.Field(), "%s", describe(fe))
		}
		return &errs.ConfigurationError{Reason: err.Error()}
	}
	if _, err := time.ParseDuration(c.ParserSettings.RequestTimeout); err != nil {
		return errs.Config("request_timeout", "invalid duration %q", c.ParserSettings.RequestTimeout)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be <= %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// Timeout returns the per-request model timeout.
func (s Settings) Timeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil || d <= 0 {
		return defaultRequestTimeout
	}
	return d
}

// Prefetch is the number of rendered pages the loader may hold ahead of the consumer.
func (s Settings) Prefetch() int {
	return s.PrefetchFactor * s.BatchSize
}

// String renders the settings for logs with the API key masked.
func (s Settings) String() string {
	key := ""
	if s.APIKey != "" {
		key = "***"
	}
	return fmt.Sprintf("mmd_out=%s model=%s api_key=%s batchsize=%d num_workers=%d prefetch_factor=%d recompute=%t skipping=%t markdown=%t dpi=%d max_retries=%d request_timeout=%s",
		s.MMDOut, s.Model, key, s.BatchSize, s.NumWorkers, s.PrefetchFactor, s.Recompute, s.Skipping, s.Markdown, s.DPI, s.MaxRetries, s.RequestTimeout)
}
