package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var (
	dotenvOnce sync.Once
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// LoadEnvFiles loads dotenv files into the process environment. Existing
// variables win and missing files are skipped. With no paths it loads ".env".
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load parses the environment into a T and validates its `validate` tags.
// The default .env file is read once per process before the first parse.
//
//	type DatabaseConfig struct {
//		URL      string `env:"PG_URL" validate:"required,url"`
//		MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10" validate:"gte=1"`
//	}
//
//	cfg, err := config.Load[DatabaseConfig]()
func Load[T any]() (T, error) {
	dotenvOnce.Do(func() { _ = LoadEnvFiles() })

	var v T
	if err := env.Parse(&v); err != nil {
		return v, errors.Join(ErrParsingConfig, err)
	}
	if err := validate.Struct(&v); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return v, errors.Join(ErrInvalidConfig, err)
		}
	}
	return v, nil
}

// MustLoad works like Load but panics on failure. Use it for settings the
// process cannot start without.
func MustLoad[T any]() T {
	v, err := Load[T]()
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration %T: %v", v, err))
	}
	return v
}
