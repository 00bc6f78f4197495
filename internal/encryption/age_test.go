package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"budgetsync/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "budgetsync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "budgetsync.key"),
	}
	return NewAgeEncryptor(cfg)
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()

	t.Run("configures keys", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if e.IsConfigured() {
			t.Fatal("IsConfigured() = true before Setup, want false")
		}
		if err := e.Setup("test-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if !e.IsConfigured() {
			t.Error("IsConfigured() = false after Setup, want true")
		}

		info, err := os.Stat(e.privateKeyPath)
		if err != nil {
			t.Fatalf("stat private key: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
		}
	})

	t.Run("refuses to overwrite keys", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("first"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if err := e.Setup("second"); err == nil {
			t.Error("second Setup() expected error")
		}
		if _, err := e.Unlock("first"); err != nil {
			t.Errorf("Unlock() with original passphrase error = %v", err)
		}
	})

	t.Run("rejects empty passphrase", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("  "); err == nil {
			t.Error("Setup() with blank passphrase expected error")
		}
	})
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "budget document", input: []byte(`{"month":"2025-03","netSalary":4200,"customItems":[]}`)},
		{name: "empty", input: []byte{}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	passphrase := "test-passphrase"
	e := newTestAgeEncryptor(t)
	if err := e.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	ctx, err := e.Unlock(passphrase)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var encrypted bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &encrypted); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !bytes.HasPrefix(encrypted.Bytes(), []byte("-----BEGIN AGE ENCRYPTED FILE-----")) {
				t.Errorf("ciphertext is not armored: %q", encrypted.Bytes()[:20])
			}

			var decrypted bytes.Buffer
			if err := ctx.Decrypt(bytes.NewReader(encrypted.Bytes()), &decrypted); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(decrypted.Bytes(), tt.input) {
				t.Errorf("round-trip failed: got %d bytes, want %d bytes", decrypted.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_Errors(t *testing.T) {
	t.Parallel()

	t.Run("wrong passphrase", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if err := e.Setup("correct-passphrase"); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
		if _, err := e.Unlock("wrong-passphrase"); err == nil {
			t.Error("Unlock() with wrong passphrase should return error")
		}
	})

	t.Run("encrypt before setup", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		var buf bytes.Buffer
		if err := e.Encrypt(bytes.NewReader([]byte("data")), &buf); err == nil {
			t.Error("Encrypt() before Setup should return error")
		}
	})

	t.Run("unlock before setup", func(t *testing.T) {
		t.Parallel()
		e := newTestAgeEncryptor(t)
		if _, err := e.Unlock("passphrase"); err == nil {
			t.Error("Unlock() before Setup should return error")
		}
	})
}
