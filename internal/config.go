package internal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/0xRadioAc7iv/go-akvdb/core"
	"github.com/0xRadioAc7iv/go-akvdb/internal/secret"
)

type Config struct {
	Path            string
	KeyText         string // base62; falls back to $AKVDB_KEY when empty
	Cipher          string
	SyncWrites      bool
	RecoverTornTail bool
	Verbose         bool
}

const DEFAULT_PATH = "./data" + core.DataFileExt
const DEFAULT_CIPHER = string(secret.AES256GCM)

func DefaultConfig() *Config {
	return &Config{
		Path:   DEFAULT_PATH,
		Cipher: DEFAULT_CIPHER,
	}
}

// Key returns the raw encryption key, from KeyText if set and otherwise
// from the environment.
func (c *Config) Key() ([]byte, error) {
	if c.KeyText == "" {
		key, err := secret.KeyFromEnv()
		if err != nil {
			return nil, fmt.Errorf("%w: set $%s or pass a key", err, secret.KeyEnvVar)
		}
		return key, nil
	}
	return secret.ParseKey(c.KeyText)
}

func (c *Config) NewCipher() (*secret.Cipher, error) {
	alg, err := secret.ParseAlgorithm(c.Cipher)
	if err != nil {
		return nil, err
	}
	key, err := c.Key()
	if err != nil {
		return nil, err
	}
	return secret.NewCipherWith(alg, key)
}

// OpenStore builds the cipher and opens the store at c.Path. The KeyDir
// is left empty.
func (c *Config) OpenStore(logger *zap.Logger) (*core.Store, error) {
	cipher, err := c.NewCipher()
	if err != nil {
		return nil, err
	}

	return core.Open(c.Path, cipher,
		core.WithLogger(logger),
		core.WithSyncWrites(c.SyncWrites),
		core.WithTornTailRecovery(c.RecoverTornTail),
	)
}
