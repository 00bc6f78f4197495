package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
)

// AgeEncryptor implements budget.Encryptor using filippo.io/age with X25519
// keys. The public key is kept in plaintext so any device can seal documents
// without a prompt. The private key is sealed with the user's passphrase
// (age scrypt) and is only needed to read documents back.
//
// Ciphertext is ASCII-armored so documents stay printable in object stores
// and diffable directories.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string
}

var _ budget.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates a new AgeEncryptor from configuration.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a key pair, writes the recipient in plaintext and the
// identity sealed with passphrase. Existing keys are never overwritten.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if strings.TrimSpace(passphrase) == "" {
		return fmt.Errorf("passphrase must not be empty")
	}
	if e.IsConfigured() {
		return fmt.Errorf("keys already exist at %s", filepath.Dir(e.privateKeyPath))
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	var sealed bytes.Buffer
	if err := seal(&sealed, strings.NewReader(identity.String()+"\n"), recipient); err != nil {
		return fmt.Errorf("sealing private key: %w", err)
	}
	if err := os.WriteFile(e.privateKeyPath, sealed.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// Encrypt reads plaintext from r and writes armored ciphertext to w for the
// stored public key.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	recipient, err := e.loadRecipient()
	if err != nil {
		return fmt.Errorf("loading public key: %w", err)
	}
	return seal(w, r, recipient)
}

// Unlock opens the private key with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (budget.DecryptionContext, error) {
	f, err := os.Open(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	defer f.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	var keyData bytes.Buffer
	if err := open(&keyData, f, scrypt); err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(&keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}

	return &AgeDecryptionContext{identity: identities[0]}, nil
}

// IsConfigured returns true if both key files exist.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.publicKeyPath, e.privateKeyPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

// AgeDecryptionContext holds an unlocked age identity for decrypting data.
type AgeDecryptionContext struct {
	identity age.Identity
}

var _ budget.DecryptionContext = (*AgeDecryptionContext)(nil)

// Decrypt reads armored ciphertext from r and writes plaintext to w.
func (c *AgeDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	return open(w, r, c.identity)
}

func seal(dst io.Writer, src io.Reader, recipient age.Recipient) error {
	aw := armor.NewWriter(dst)
	ew, err := age.Encrypt(aw, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(ew, src); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := ew.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("finalizing armor: %w", err)
	}
	return nil
}

func open(dst io.Writer, src io.Reader, identity age.Identity) error {
	dr, err := age.Decrypt(armor.NewReader(src), identity)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(dst, dr); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
