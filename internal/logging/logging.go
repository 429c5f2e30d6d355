// Package logging builds the process logger from a logging config file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config describes the process logger. The file may be YAML, JSON or TOML.
type Config struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	ReportCaller bool   `mapstructure:"report_caller"`

	// Output is "stdout", "stderr" or a file path to append to.
	Output string `mapstructure:"output"`
}

// DefaultConfig logs text at info level to stdout.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	}
}

// Load reads the logging config at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read logging config: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode logging config: %w", err)
	}
	return cfg, nil
}

func formatter(name string) (log.Formatter, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", name)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a slog logger backed by a charmbracelet/log handler. The
// returned closer releases the output file, if any.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	format, err := formatter(cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		out, closer = f, f
	}

	handler := log.NewWithOptions(out, log.Options{
		Level:           level,
		Formatter:       format,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    cfg.ReportCaller,
	})

	return slog.New(handler), closer, nil
}
