// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package loads a .env file (if present) on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
//	type LogConfig struct {
//		Dir         string `env:"LOG_DIR" envDefault:"./logs"`
//		MaxFileSize int64  `env:"LOG_MAX_FILE_SIZE" envDefault:"10485760"`
//	}
//
//	var cfg LogConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
// Different types are cached independently; a second Load of the same type copies the
// cached value without re-reading the environment. Reset clears the cache (tests).
package config
