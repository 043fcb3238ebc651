package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
// Export settings are checked separately by ValidateExport since only the
// export command needs them.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateDirectory()...)
	errors = append(errors, c.validateCrawl()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateViewer()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// ValidateExport checks the export target and table settings.
func (c *Config) ValidateExport() error {
	var errors ValidationErrors

	db := &c.Export.Target
	if db.Host == "" {
		errors = append(errors, ValidationError{Field: "export.target.host", Message: "host is required"})
	}
	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{Field: "export.target.port", Message: "port must be between 1 and 65535"})
	}
	if db.User == "" {
		errors = append(errors, ValidationError{Field: "export.target.user", Message: "user is required"})
	}
	if db.Database == "" {
		errors = append(errors, ValidationError{Field: "export.target.database", Message: "database name is required"})
	}
	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   "export.target.tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}
	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{Field: "export.target.max_connections", Message: "max_connections cannot be negative"})
	}
	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{Field: "export.target.max_idle_connections", Message: "max_idle_connections cannot be negative"})
	}
	if c.Export.Table == "" {
		errors = append(errors, ValidationError{Field: "export.table", Message: "table is required"})
	}
	if c.Export.BatchSize <= 0 {
		errors = append(errors, ValidationError{Field: "export.batch_size", Message: "batch_size must be positive"})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateDirectory() ValidationErrors {
	var errors ValidationErrors
	d := &c.Directory

	switch d.Driver {
	case DriverMemory:
		if d.Memory.Records < 0 {
			errors = append(errors, ValidationError{
				Field:   "directory.memory.records",
				Message: "records cannot be negative",
			})
		}
	case DriverHTTP:
		if d.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "directory.base_url",
				Message: "base_url is required for the http driver",
			})
		} else if u, err := url.Parse(d.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "directory.base_url",
				Message: "base_url must be an absolute URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "directory.driver",
			Message: "driver must be 'memory' or 'http'",
		})
	}

	if d.ResultCap <= 0 {
		errors = append(errors, ValidationError{
			Field:   "directory.result_cap",
			Message: "result_cap must be positive",
		})
	}
	if d.RequestTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "directory.request_timeout",
			Message: "request_timeout must be positive",
		})
	}
	if d.DetailTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "directory.detail_timeout",
			Message: "detail_timeout must be positive",
		})
	}
	if d.PollInterval <= 0 || d.PollInterval > d.DetailTimeout {
		errors = append(errors, ValidationError{
			Field:   "directory.poll_interval",
			Message: "poll_interval must be positive and not exceed detail_timeout",
		})
	}

	return errors
}

func (c *Config) validateCrawl() ValidationErrors {
	var errors ValidationErrors
	cr := &c.Crawl

	if cr.Alphabet == "" {
		errors = append(errors, ValidationError{
			Field:   "crawl.alphabet",
			Message: "alphabet cannot be empty",
		})
	} else {
		seen := make(map[rune]bool)
		for _, r := range cr.Alphabet {
			if seen[r] {
				errors = append(errors, ValidationError{
					Field:   "crawl.alphabet",
					Message: fmt.Sprintf("duplicate character %q", r),
				})
				break
			}
			seen[r] = true
		}
	}

	if len(cr.Groups) == 0 {
		if cr.Workers <= 0 {
			errors = append(errors, ValidationError{
				Field:   "crawl.workers",
				Message: "workers must be positive",
			})
		} else if cr.Workers > utf8.RuneCountInString(cr.Alphabet) && cr.Alphabet != "" {
			errors = append(errors, ValidationError{
				Field:   "crawl.workers",
				Message: "workers cannot exceed the alphabet size",
			})
		}
	}

	roots := make(map[string]string)
	for i, group := range cr.Groups {
		field := fmt.Sprintf("crawl.groups[%d]", i)
		if len(group) == 0 {
			errors = append(errors, ValidationError{Field: field, Message: "group cannot be empty"})
			continue
		}
		for _, root := range group {
			if root == "" {
				errors = append(errors, ValidationError{Field: field, Message: "root prefix cannot be empty"})
				continue
			}
			for other, otherField := range roots {
				if strings.HasPrefix(root, other) || strings.HasPrefix(other, root) {
					errors = append(errors, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("root %q overlaps %q in %s", root, other, otherField),
					})
				}
			}
			roots[root] = field
		}
	}

	if cr.RetryAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawl.retry_attempts",
			Message: "retry_attempts cannot be negative",
		})
	}
	if cr.RetryInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawl.retry_interval",
			Message: "retry_interval cannot be negative",
		})
	}
	if cr.Deadline < 0 {
		errors = append(errors, ValidationError{
			Field:   "crawl.deadline",
			Message: "deadline cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateStorage() ValidationErrors {
	var errors ValidationErrors

	if c.Storage.ResultsFile == "" {
		errors = append(errors, ValidationError{
			Field:   "storage.results_file",
			Message: "results_file is required",
		})
	}
	if c.Storage.StateFile == "" {
		errors = append(errors, ValidationError{
			Field:   "storage.state_file",
			Message: "state_file is required",
		})
	}
	if c.Storage.ResultsFile != "" && c.Storage.ResultsFile == c.Storage.StateFile {
		errors = append(errors, ValidationError{
			Field:   "storage.state_file",
			Message: "state_file must differ from results_file",
		})
	}

	return errors
}

func (c *Config) validateViewer() ValidationErrors {
	var errors ValidationErrors

	if c.Viewer.Listen == "" {
		errors = append(errors, ValidationError{
			Field:   "viewer.listen",
			Message: "listen address is required",
		})
	}
	if c.Viewer.Interval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "viewer.interval",
			Message: "interval must be positive",
		})
	}
	if c.Viewer.MaxDelta <= 0 {
		errors = append(errors, ValidationError{
			Field:   "viewer.max_delta",
			Message: "max_delta must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
