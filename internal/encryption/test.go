package encryption

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"budgetsync/internal/budget"
)

// sealedPrefix starts every document sealed by TestEncryptor so a sealed
// document never parses as JSON.
const sealedPrefix = "budgetsync-test-sealed\n"

// TestEncryptor seals documents as base64 behind a marker line. It needs no
// key files and is deterministic. Like the age key pair, a passphrase set with
// Setup must be given again to Unlock.
type TestEncryptor struct {
	passphrase string
}

var _ budget.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor returns a TestEncryptor that unlocks with any passphrase
// until Setup is called.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.WriteString(w, sealedPrefix); err != nil {
		return fmt.Errorf("writing sealed marker: %w", err)
	}
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.Copy(enc, r); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	return enc.Close()
}

func (e *TestEncryptor) Unlock(passphrase string) (budget.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, errors.New("incorrect passphrase")
	}
	return &TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext opens documents sealed by TestEncryptor.
type TestDecryptionContext struct{}

var _ budget.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(sealedPrefix))
	if _, err := io.ReadFull(r, marker); err != nil || string(marker) != sealedPrefix {
		return errors.New("not a sealed document")
	}
	if _, err := io.Copy(w, base64.NewDecoder(base64.StdEncoding, r)); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}
