// Package config loads typed configuration from environment variables.
//
// It reads an optional .env file with github.com/joho/godotenv and parses
// tagged structs with github.com/caarlos0/env/v11. Every struct type is
// parsed once per process and served from a cache afterwards, so packages
// can call Load for their own config without coordinating:
//
//	type Config struct {
//		Provider string `env:"BILLING_PROVIDER" envDefault:"razorpay"`
//	}
//
//	var cfg Config
//	config.MustLoad(&cfg)
//
// Reset clears the cache; tests that change the environment call it
// before loading again.
package config
