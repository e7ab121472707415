package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. It is read once at startup
// and passed by value or pointer to the components that need it; nothing
// mutates it afterwards.
type Config struct {
	Store struct {
		Driver string `yaml:"driver" validate:"oneof=sqlite postgres memory"`
		DSN    string `yaml:"dsn"`
	} `yaml:"store"`
	Ingest struct {
		CSVDir    string `yaml:"csv_dir" validate:"required"`
		BatchSize int    `yaml:"batch_size" validate:"gte=0"`
	} `yaml:"ingest"`
	Fetch struct {
		Provider     string        `yaml:"provider" validate:"oneof=http yahoo mock"`
		BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
		APIKey       string        `yaml:"api_key"`
		Adjust       string        `yaml:"adjust" validate:"omitempty,oneof=qfq hfq"`
		StartDate    string        `yaml:"start_date" validate:"datetime=2006-01-02"`
		RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gt=0"`
		MaxAttempts  int           `yaml:"max_attempts" validate:"gte=0"`
		Pause        time.Duration `yaml:"pause" validate:"gte=0"`
		ProgressFile string        `yaml:"progress_file"`
	} `yaml:"fetch"`
	Schedule struct {
		IngestCron   string `yaml:"ingest_cron" validate:"omitempty,cron"`
		FetchCron    string `yaml:"fetch_cron" validate:"omitempty,cron"`
		ResampleCron string `yaml:"resample_cron" validate:"omitempty,cron"`
		HistoryDB    string `yaml:"history_db"` // job journal; "-" disables it
	} `yaml:"schedule"`
	Export struct {
		Dir      string `yaml:"dir" validate:"required"`
		Format   string `yaml:"format" validate:"oneof=csv json parquet"`
		Compress bool   `yaml:"compress"`
	} `yaml:"export"`
	Report struct {
		Weeks int `yaml:"weeks" validate:"gte=0"`
	} `yaml:"report"`
	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=auto json console"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env (if present) into the environment, then the YAML file at
// path, then applies environment variable overrides and defaults.
// A missing config file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"CANDLEDESK_STORE_DRIVER":   &cfg.Store.Driver,
		"CANDLEDESK_STORE_DSN":      &cfg.Store.DSN,
		"CANDLEDESK_CSV_DIR":        &cfg.Ingest.CSVDir,
		"CANDLEDESK_FETCH_PROVIDER": &cfg.Fetch.Provider,
		"CANDLEDESK_FETCH_BASE_URL": &cfg.Fetch.BaseURL,
		"CANDLEDESK_FETCH_API_KEY":  &cfg.Fetch.APIKey,
		"CANDLEDESK_FETCH_START":    &cfg.Fetch.StartDate,
		"CANDLEDESK_EXPORT_DIR":     &cfg.Export.Dir,
		"CANDLEDESK_EXPORT_FORMAT":  &cfg.Export.Format,
		"CANDLEDESK_LOG_LEVEL":      &cfg.Log.Level,
		"CANDLEDESK_LOG_FORMAT":     &cfg.Log.Format,
		"CANDLEDESK_CRON_INGEST":    &cfg.Schedule.IngestCron,
		"CANDLEDESK_CRON_FETCH":     &cfg.Schedule.FetchCron,
		"CANDLEDESK_CRON_RESAMPLE":  &cfg.Schedule.ResampleCron,
		"HTTPS_PROXY":               &cfg.Proxy,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CANDLEDESK_FETCH_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CANDLEDESK_FETCH_RETRY_BACKOFF: %w", err)
		}
		cfg.Fetch.RetryBackoff = d
	}
	if v := os.Getenv("CANDLEDESK_FETCH_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CANDLEDESK_FETCH_MAX_ATTEMPTS: %w", err)
		}
		cfg.Fetch.MaxAttempts = n
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "data/candledesk.db"
	}
	if cfg.Ingest.CSVDir == "" {
		cfg.Ingest.CSVDir = "data/csv"
	}
	if cfg.Fetch.Provider == "" {
		cfg.Fetch.Provider = "http"
	}
	if cfg.Fetch.StartDate == "" {
		cfg.Fetch.StartDate = "2024-01-01"
	}
	if cfg.Fetch.RetryBackoff == 0 {
		cfg.Fetch.RetryBackoff = 60 * time.Second
	}
	if cfg.Fetch.Pause == 0 {
		cfg.Fetch.Pause = time.Second
	}
	if cfg.Fetch.ProgressFile == "" {
		cfg.Fetch.ProgressFile = "data/fetch_progress.json"
	}
	if cfg.Schedule.IngestCron == "" {
		cfg.Schedule.IngestCron = "0 30 17 * * 1-5"
	}
	if cfg.Schedule.FetchCron == "" {
		cfg.Schedule.FetchCron = "0 0 18 * * 1-5"
	}
	if cfg.Schedule.ResampleCron == "" {
		cfg.Schedule.ResampleCron = "0 0 20 * * 5"
	}
	if cfg.Schedule.HistoryDB == "" {
		cfg.Schedule.HistoryDB = "data/job_runs.db"
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "data/export"
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = "csv"
	}
	if cfg.Report.Weeks == 0 {
		cfg.Report.Weeks = 26
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cronParser.Parse(fl.Field().String())
		return err == nil
	})
	return v
}

// StartDate returns fetch.start_date as a date.
func (c *Config) StartDate() time.Time {
	t, _ := time.Parse("2006-01-02", c.Fetch.StartDate)
	return t
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				field := strings.TrimPrefix(fe.Namespace(), "Config.")
				if fe.Param() != "" {
					msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
				} else {
					msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s (got %v)", field, fe.Tag(), fe.Value()))
				}
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Fetch.Provider == "http" && c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url is required for the http provider")
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required for the postgres driver")
	}
	return nil
}
