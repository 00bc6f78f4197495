package budget

import "io"

// Encryptor protects budget documents stored at rest by file-based remotes.
// Encryption uses the public key only. Decryption requires a passphrase to
// unlock the private key, producing a DecryptionContext for the session.
type Encryptor interface {
	// Setup performs one-time key generation. Called during `budgetsync keys init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
