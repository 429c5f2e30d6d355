package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules spanning several options.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if _, _, err := ParseDSN(cfg.PsqlDSN); err != nil {
		return fmt.Errorf("psql_dsn: %w", err)
	}

	if cfg.Dummy {
		if !cfg.Debug {
			return errors.New("dummy: the local transfer backend is only allowed in debug mode")
		}
		if cfg.LocalStorage == "" {
			return errors.New("local_storage: required with dummy")
		}
	} else if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return errors.New("s3_endpoint, s3_bucket: required unless dummy is set")
	}

	if !cfg.DummyCache && cfg.RedisHost == "" {
		return errors.New("redis_host: required unless dummy_cache is set")
	}

	if cfg.DummyAuth == "" && cfg.AccountingHost == "" {
		return errors.New("accounting_host: required unless dummy_auth is set")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
