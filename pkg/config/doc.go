// Package config loads typed configuration from the environment.
//
// Load parses any struct with github.com/caarlos0/env tags and then runs
// github.com/go-playground/validator tags on the result. MustLoad panics on
// error and is meant for process startup.
//
// LoadEnvFiles reads .env files through github.com/joho/godotenv. Missing
// files are skipped and variables already set in the process environment win.
// The first Load reads ./.env once if nothing else did.
//
// # Usage
//
//	type Config struct {
//	    URL      string `env:"PG_URL" validate:"required,url"`
//	    MaxConns int    `env:"PG_MAX_CONNS" envDefault:"10" validate:"gte=1"`
//	}
//
//	if err := config.LoadEnvFiles(".env"); err != nil {
//	    return err
//	}
//	cfg := config.MustLoad[Config]()
package config
