package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type entry struct {
	once sync.Once
	val  any
	err  error
}

var (
	dotenv sync.Once
	cache  sync.Map // reflect.Type -> *entry
)

// Load parses the environment into v. The .env file in the working
// directory, if any, is applied once per process without overriding
// variables that are already set. Each config type is parsed once; later
// calls for the same type copy the cached value.
//
//	var cfg subscription.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenv.Do(func() {
		_ = godotenv.Load()
	})

	e, _ := cache.LoadOrStore(reflect.TypeFor[T](), &entry{})
	ent := e.(*entry)
	ent.once.Do(func() {
		if err := env.Parse(v); err != nil {
			ent.err = errors.Join(ErrParsingConfig, err)
			return
		}
		ent.val = *v
	})
	if ent.err != nil {
		return ent.err
	}

	cached, ok := ent.val.(T)
	if !ok {
		return ErrConfigNotLoaded
	}
	*v = cached
	return nil
}

// MustLoad is Load that panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// LoadEnvFiles applies the given .env files to the process environment.
// Variables already set win.
func LoadEnvFiles(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Reset drops every cached config so the next Load parses again.
func Reset() {
	cache.Range(func(key, _ any) bool {
		cache.Delete(key)
		return true
	})
}
