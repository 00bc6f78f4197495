package testutil

import (
	"budgetsync/internal/encryption"
)

// NewTestSealer returns a sealer backed by the deterministic test encryptor.
func NewTestSealer() *encryption.Sealer {
	enc := encryption.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	return encryption.NewSealer(enc, dec)
}
