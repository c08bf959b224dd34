package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	k := make([]byte, 32)
	if _, err := rand.Read(k); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(k)
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{"empty key", "", "encryption key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "base64 decode failed"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "must be 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "must be 32 bytes"},
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(make([]byte, 32)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.errorMsg != "" {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Fatalf("NewAESEncryptor() error = %v, want containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil || enc == nil {
				t.Fatalf("NewAESEncryptor() = %v, %v", enc, err)
			}
			if len(enc.KeyID()) != 8 {
				t.Fatalf("KeyID() = %q", enc.KeyID())
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, pt := range []string{"a", "oauth:abcdef0123456789", strings.Repeat("x", 4096)} {
		ct, err := enc.Encrypt([]byte(pt))
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if bytes.Contains(ct, []byte(pt)) {
			t.Fatal("ciphertext contains plaintext")
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if string(got) != pt {
			t.Fatalf("round trip = %q", got)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	a, _ := enc.Encrypt([]byte("same"))
	b, _ := enc.Encrypt([]byte("same"))
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions produced identical ciphertext")
	}
}

func TestDecryptRejects(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	other, _ := NewAESEncryptor(testKey(t))
	ct, _ := enc.Encrypt([]byte("secret"))

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name string
		enc  *AESEncryptor
		ct   []byte
	}{
		{"empty", enc, nil},
		{"too short", enc, []byte{1, 2, 3}},
		{"tampered", enc, tampered},
		{"wrong key", other, ct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.enc.Decrypt(tt.ct); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEncryptEmpty(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if _, err := enc.Encrypt(nil); err == nil {
		t.Fatal("expected error for empty plaintext")
	}
}

func TestStringHelpers(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	s, err := EncryptString(enc, "token")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecryptString(enc, s)
	if err != nil || got != "token" {
		t.Fatalf("DecryptString = %q, %v", got, err)
	}
	if s, _ := EncryptString(enc, ""); s != "" {
		t.Fatal("empty input should stay empty")
	}
	if s, _ := DecryptString(enc, ""); s != "" {
		t.Fatal("empty input should stay empty")
	}
	if _, err := DecryptString(enc, "!!notbase64"); err == nil {
		t.Fatal("expected base64 error")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	enc, err := FromEnv()
	if err != nil || enc != nil {
		t.Fatalf("FromEnv() unset = %v, %v", enc, err)
	}
	t.Setenv("ENCRYPTION_KEY", testKey(t))
	if enc, err = FromEnv(); err != nil || enc == nil {
		t.Fatalf("FromEnv() = %v, %v", enc, err)
	}
	t.Setenv("ENCRYPTION_KEY", "short")
	if _, err = FromEnv(); err == nil {
		t.Fatal("expected error for bad key")
	}
}
