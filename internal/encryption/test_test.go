package encryption

import (
	"bytes"
	"testing"

	"wemirror/internal/config"
)

func configWithType(typ string) config.EncryptionConfig {
	return config.EncryptionConfig{
		Type:           typ,
		PublicKeyPath:  "/tmp/keys/wemirror.pub",
		PrivateKeyPath: "/tmp/keys/wemirror.key",
	}
}

func TestTestEncryptor_RoundTrip(t *testing.T) {
	e := NewTestEncryptor()
	input := []byte("mirror snapshot payload")

	var ciphertext bytes.Buffer
	if err := e.Encrypt(bytes.NewReader(input), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.Equal(ciphertext.Bytes(), input) {
		t.Error("ciphertext equals plaintext")
	}

	dc, err := e.Unlock("any")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	var plaintext bytes.Buffer
	if err := dc.Decrypt(bytes.NewReader(ciphertext.Bytes()), &plaintext); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(plaintext.Bytes(), input) {
		t.Errorf("round trip = %q, want %q", plaintext.Bytes(), input)
	}
}

func TestTestDecryptionContext_RejectsBadHeader(t *testing.T) {
	dc := &TestDecryptionContext{}
	var out bytes.Buffer

	if err := dc.Decrypt(bytes.NewReader([]byte("not-encrypted-data")), &out); err == nil {
		t.Error("Decrypt() with bad header succeeded, want error")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		wantErr bool
	}{
		{"age by default", "", false},
		{"age explicit", "age", false},
		{"test", "test", false},
		{"unknown", "rot13", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptorFromConfig(configWithType(tt.typ))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
