package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Struct tag parsing is
// cached, so reuse is cheaper than per-call construction.
var validate = validator.New()

// Validate checks the configuration against the struct validation tags
// and the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.ArchiveAfterDays >= cfg.RetentionDays {
		return fmt.Errorf("archive_after_days (%d) must be smaller than retention_days (%d)",
			cfg.ArchiveAfterDays, cfg.RetentionDays)
	}

	return nil
}
