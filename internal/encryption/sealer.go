package encryption

import (
	"bytes"
	"fmt"

	"budgetsync/internal/budget"
)

// Sealer encrypts and decrypts whole documents. Sealing needs only the
// public key; opening needs an unlocked DecryptionContext.
type Sealer struct {
	enc budget.Encryptor
	dec budget.DecryptionContext
}

// NewSealer pairs an encryptor with an unlocked decryption context.
// dec may be nil for a write-only sealer.
func NewSealer(enc budget.Encryptor, dec budget.DecryptionContext) *Sealer {
	return &Sealer{enc: enc, dec: dec}
}

// Seal returns the ciphertext of plaintext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.enc.Encrypt(bytes.NewReader(plaintext), &buf); err != nil {
		return nil, fmt.Errorf("sealing document: %w", err)
	}
	return buf.Bytes(), nil
}

// Open returns the plaintext of ciphertext.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if s.dec == nil {
		return nil, fmt.Errorf("opening document: keys are locked")
	}
	var buf bytes.Buffer
	if err := s.dec.Decrypt(bytes.NewReader(ciphertext), &buf); err != nil {
		return nil, fmt.Errorf("opening document: %w", err)
	}
	return buf.Bytes(), nil
}
