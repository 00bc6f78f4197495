package encryption

import (
	"errors"
	"fmt"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
)

// ErrNoKeys is returned when documents must be sealed but no key pair exists.
var ErrNoKeys = errors.New("no document keys: run `budgetsync keys init`")

// NewEncryptorFromConfig returns the encryptor behind the document sealer.
// "age" (the default) uses the key pair at the configured paths; "test"
// needs no keys.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (budget.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// OpenSealer unlocks the configured keys and returns a Sealer that can both
// seal and open documents. passphrase is only asked for once the keys are
// known to exist.
func OpenSealer(cfg config.EncryptionConfig, passphrase func() (string, error)) (*Sealer, error) {
	enc, err := NewEncryptorFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enc.IsConfigured() {
		return nil, ErrNoKeys
	}

	p, err := passphrase()
	if err != nil {
		return nil, err
	}
	dec, err := enc.Unlock(p)
	if err != nil {
		return nil, fmt.Errorf("unlocking document keys: %w", err)
	}
	return NewSealer(enc, dec), nil
}
