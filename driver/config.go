package driver

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	// DefaultTimeout bounds the readiness/shutdown wait of a driver.
	DefaultTimeout = 60 * time.Second
	// DefaultErrorLogsMaxLines is how many trailing log lines are attached
	// to a start/stop error when report_errors_from_logs is enabled.
	DefaultErrorLogsMaxLines = 10
)

// Config is the validated option bag for a driver, typically produced by the
// configuration layer from YAML.
type Config struct {
	Name                 string        `yaml:"name"`
	InstallFiles         []string      `yaml:"install_files,omitempty"`
	Timeout              time.Duration `yaml:"timeout,omitempty"`
	Logfile              string        `yaml:"logfile,omitempty"`
	LogRegexps           []string      `yaml:"log_regexps,omitempty"`
	StdoutRegexps        []string      `yaml:"stdout_regexps,omitempty"`
	StderrRegexps        []string      `yaml:"stderr_regexps,omitempty"`
	AsyncStart           bool          `yaml:"async_start,omitempty"`
	ReportErrorsFromLogs bool          `yaml:"report_errors_from_logs,omitempty"`
	ErrorLogsMaxLines    int           `yaml:"error_logs_max_lines,omitempty"`
}

// Validate checks required options and applies defaults in place.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("driver name is required")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ErrorLogsMaxLines == 0 {
		c.ErrorLogsMaxLines = DefaultErrorLogsMaxLines
	}
	for _, group := range [][]string{c.LogRegexps, c.StdoutRegexps, c.StderrRegexps} {
		for _, pattern := range group {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("driver %s: invalid pattern %q: %w", c.Name, pattern, err)
			}
		}
	}
	return nil
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
