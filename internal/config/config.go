// Package config resolves facewatch settings from defaults, an optional YAML
// file and the environment. Command-line flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every facewatch environment variable.
const EnvPrefix = "FACEWATCH_"

type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Gallery    GalleryConfig    `yaml:"gallery"`
	Match      MatchConfig      `yaml:"match"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
}

type CaptureConfig struct {
	Location    string `yaml:"location" validate:"required"`
	Width       int    `yaml:"width" validate:"gt=0,lte=7680"`
	Height      int    `yaml:"height" validate:"gt=0,lte=4320"`
	FPS         int    `yaml:"fps" validate:"gt=0,lte=240"`
	Format      string `yaml:"format" validate:"oneof=MJPG YUYV"`
	Backend     string `yaml:"backend" validate:"required"`
	LogEvery    int    `yaml:"log_every" validate:"gte=0"`
	QueryDevice bool   `yaml:"query_device"`
	Display     bool   `yaml:"display"`
}

type GalleryConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

type MatchConfig struct {
	Threshold  float64 `yaml:"threshold" validate:"gte=0,lte=4"`
	Policy     string  `yaml:"policy" validate:"oneof=stranger watchlist"`
	Alert      string  `yaml:"alert" validate:"oneof=stdout email sound"`
	PrintEvery int     `yaml:"print_every" validate:"gte=0"`
}

type RecognizerConfig struct {
	Kind    string        `yaml:"kind" validate:"oneof=worker dlib"`
	Command []string      `yaml:"command"`
	Models  string        `yaml:"models"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	File  string `yaml:"file"`
}

type DatabaseConfig struct {
	// URL is optional; without it the embedding cache is disabled.
	URL string `yaml:"url"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			Location: "0",
			Width:    640,
			Height:   480,
			FPS:      15,
			Format:   "MJPG",
			Backend:  "auto",
			LogEvery: 100,
		},
		Gallery: GalleryConfig{Dir: "assets"},
		Match: MatchConfig{
			Threshold:  0.6,
			Policy:     "stranger",
			Alert:      "stdout",
			PrintEvery: 10,
		},
		Recognizer: RecognizerConfig{Kind: "worker", Models: "models"},
		Log:        LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// non-empty) and the environment, including a .env file in the working directory.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize canonicalises the case of enumerated settings so YAML, env and
// flags may spell them either way.
func (c *Config) Normalize() {
	c.Capture.Format = strings.ToUpper(strings.TrimSpace(c.Capture.Format))
	c.Match.Policy = strings.ToLower(strings.TrimSpace(c.Match.Policy))
	c.Match.Alert = strings.ToLower(strings.TrimSpace(c.Match.Alert))
	c.Recognizer.Kind = strings.ToLower(strings.TrimSpace(c.Recognizer.Kind))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

// ApplyEnv overrides cfg from FACEWATCH_* variables and the POSTGRES_* set.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("CAPTURE", &cfg.Capture.Location)
	num("WIDTH", &cfg.Capture.Width)
	num("HEIGHT", &cfg.Capture.Height)
	num("FRAMERATE", &cfg.Capture.FPS)
	str("FORMAT", &cfg.Capture.Format)
	str("BACKEND", &cfg.Capture.Backend)
	str("REFERENCE", &cfg.Gallery.Dir)
	str("POLICY", &cfg.Match.Policy)
	str("ALERT", &cfg.Match.Alert)
	str("RECOGNIZER", &cfg.Recognizer.Kind)
	str("MODELS", &cfg.Recognizer.Models)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	str("DB", &cfg.Database.URL)

	if v := getenv(EnvPrefix + "THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTHRESHOLD: %w", EnvPrefix, err))
		} else {
			cfg.Match.Threshold = f
		}
	}
	if v := getenv(EnvPrefix + "WORKER"); v != "" {
		cfg.Recognizer.Command = strings.Fields(v)
	}
	if v := getenv(EnvPrefix + "WORKER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWORKER_TIMEOUT: %w", EnvPrefix, err))
		} else {
			cfg.Recognizer.Timeout = d
		}
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = PostgresURL(getenv)
	}
	return errors.Join(errs...)
}

// PostgresURL builds a connection string from the POSTGRES_* variables, or
// returns "" when POSTGRES_HOST is unset.
func PostgresURL(getenv func(string) string) string {
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD")),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + getenv("POSTGRES_DB"),
	}
	return u.String()
}

var validate = validator.New()

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s %s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
}
