package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
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
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	for _, req := range []struct {
		field, value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"PLATFORM_API_URL", cfg.PlatformAPIURL},
		{"PLATFORM_TOKEN", cfg.PlatformToken},
		{"PLATFORM_GUILD_ID", cfg.PlatformGuildID},
	} {
		if req.value == "" {
			errs = append(errs, ValidationError{
				Field:   req.field,
				Message: "required",
			})
		}
	}

	for _, dur := range []struct {
		field, value string
	}{
		{"POLL_INTERVAL", cfg.PollIntervalStr},
		{"REMINDER_LEAD", cfg.ReminderLeadStr},
		{"REMINDER_WINDOW", cfg.ReminderWindowStr},
		{"QUEUE_BASE_DELAY", cfg.QueueBaseDelayStr},
	} {
		if dur.value == "" {
			continue
		}
		d, err := time.ParseDuration(dur.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   dur.field,
				Message: "must be positive",
			})
		}
	}

	if cfg.ReminderCron != "" {
		if _, err := cron.ParseStandard(cfg.ReminderCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "REMINDER_CRON",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
