package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

// testKey returns a valid 32-byte key for use in tests.
func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(testKey())
	if err != nil {
		t.Fatalf("NewVault() error: %v", err)
	}
	return v
}

func TestNewVault(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"valid 32-byte key", 32, nil},
		{"too short (16 bytes)", 16, ErrKeyLengthInvalid},
		{"too long (64 bytes)", 64, ErrKeyLengthInvalid},
		{"empty key", 0, ErrKeyLengthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVault(make([]byte, tt.keyLen))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewVault(len=%d) error = %v, want %v", tt.keyLen, err, tt.wantErr)
			}
		})
	}
}

func TestNewVaultIsolatesKey(t *testing.T) {
	key := testKey()
	v, err := NewVault(key)
	if err != nil {
		t.Fatalf("NewVault() error: %v", err)
	}
	sealed, err := v.Encrypt([]byte("sensitive-data"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	for i := range key {
		key[i] = 0
	}

	got, err := v.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() after key mutation error: %v", err)
	}
	if string(got) != "sensitive-data" {
		t.Errorf("Decrypt() = %q, want %q", got, "sensitive-data")
	}
}

func TestRoundTrip(t *testing.T) {
	v := newTestVault(t)

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"nil", nil},
		{"short", []byte("x")},
		{"json envelope", []byte(`{"access_token":"a","refresh_token":"r","expires_at":"2026-01-01T00:00:00Z"}`)},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80}},
		{"large", bytes.Repeat([]byte("abcdef"), 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := v.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			if sealed == "" {
				t.Fatal("Encrypt() returned empty output")
			}
			got, err := v.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Decrypt() = %x, want %x", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	v := newTestVault(t)
	plaintext := []byte("same input")

	a, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	b, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of the same plaintext produced identical output")
	}
	for _, sealed := range []string{a, b} {
		got, err := v.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() error: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	v := newTestVault(t)
	sealed, err := v.Encrypt([]byte("credential blob"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	raw, _ := base64.URLEncoding.DecodeString(sealed)

	flip := func(i int) string {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		return base64.URLEncoding.EncodeToString(tampered)
	}

	other, err := NewVault(bytes.Repeat([]byte("o"), 32))
	if err != nil {
		t.Fatalf("NewVault() error: %v", err)
	}
	foreign, _ := other.Encrypt([]byte("credential blob"))

	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"not base64", "!!!not-base64!!!"},
		{"shorter than nonce", base64.URLEncoding.EncodeToString(raw[:8])},
		{"nonce only", base64.URLEncoding.EncodeToString(raw[:12])},
		{"truncated tag", base64.URLEncoding.EncodeToString(raw[:len(raw)-1])},
		{"flipped nonce bit", flip(0)},
		{"flipped ciphertext bit", flip(14)},
		{"flipped tag bit", flip(len(raw) - 1)},
		{"wrong key", foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Decrypt(tt.input)
			if !errors.Is(err, ErrDecryptionFailed) {
				t.Errorf("Decrypt() error = %v, want %v", err, ErrDecryptionFailed)
			}
			if got != nil {
				t.Errorf("Decrypt() returned %q alongside an error", got)
			}
		})
	}
}

func TestCiphertextCorruptedWrapsDecryptionFailed(t *testing.T) {
	if !errors.Is(ErrCiphertextCorrupted, ErrDecryptionFailed) {
		t.Fatal("ErrCiphertextCorrupted must satisfy errors.Is(ErrDecryptionFailed)")
	}
}

func TestDeriveVault(t *testing.T) {
	salt := bytes.Repeat([]byte("s"), 16)

	t.Run("short salt rejected", func(t *testing.T) {
		if _, err := DeriveVault("passphrase", salt[:8], MinIterations); !errors.Is(err, ErrSaltTooShort) {
			t.Errorf("DeriveVault() error = %v, want %v", err, ErrSaltTooShort)
		}
	})

	t.Run("same inputs derive compatible vaults", func(t *testing.T) {
		a, err := DeriveVault("passphrase", salt, 1)
		if err != nil {
			t.Fatalf("DeriveVault() error: %v", err)
		}
		b, err := DeriveVault("passphrase", salt, MinIterations)
		if err != nil {
			t.Fatalf("DeriveVault() error: %v", err)
		}
		sealed, _ := a.Encrypt([]byte("shared"))
		got, err := b.Decrypt(sealed)
		if err != nil {
			t.Fatalf("Decrypt() with re-derived vault error: %v", err)
		}
		if string(got) != "shared" {
			t.Errorf("Decrypt() = %q, want %q", got, "shared")
		}
	})
}

func TestParseKey(t *testing.T) {
	key := testKey()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"std base64", base64.StdEncoding.EncodeToString(key), false},
		{"url base64", base64.URLEncoding.EncodeToString(key), false},
		{"raw base64", base64.RawStdEncoding.EncodeToString(key), false},
		{"hex", hex.EncodeToString(key), false},
		{"surrounding whitespace", "  " + base64.StdEncoding.EncodeToString(key) + "\n", false},
		{"wrong length", base64.StdEncoding.EncodeToString(key[:16]), true},
		{"garbage", "not a key", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrKeyLengthInvalid) {
					t.Errorf("ParseKey() error = %v, want %v", err, ErrKeyLengthInvalid)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey() error: %v", err)
			}
			if !bytes.Equal(got, key) {
				t.Errorf("ParseKey() = %x, want %x", got, key)
			}
		})
	}
}

func TestGenerateKeyAndSalt(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	k2, _ := GenerateKey()
	if len(k1) != KeySize {
		t.Errorf("GenerateKey() len = %d, want %d", len(k1), KeySize)
	}
	if bytes.Equal(k1, k2) {
		t.Error("GenerateKey() returned the same key twice")
	}

	salt, err := GenerateSalt(4)
	if err != nil {
		t.Fatalf("GenerateSalt() error: %v", err)
	}
	if len(salt) != 16 {
		t.Errorf("GenerateSalt(4) len = %d, want 16", len(salt))
	}
}
