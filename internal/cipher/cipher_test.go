package cipher

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

var testKey = []byte("0123456789abcdef")

func TestDeriveKey(t *testing.T) {
	got := hex.EncodeToString(DiscoveryKey())
	want := "6c1ec8e2bb9bb59ab50b0daf649b410a"
	if got != want {
		t.Errorf("DiscoveryKey() = %s, want %s", got, want)
	}

	if len(DeriveKey("")) != KeySize {
		t.Errorf("DeriveKey(\"\") length = %d, want %d", len(DeriveKey("")), KeySize)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	tests := []struct {
		name  string
		plain []byte
	}{
		{name: "empty", plain: []byte{}},
		{name: "short json", plain: []byte(`{"1":true}`)},
		{name: "exact block", plain: []byte("0123456789abcdef")},
		{name: "multi block", plain: bytes.Repeat([]byte{0xAB}, 45)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := Encrypt(testKey, tt.plain)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(ct)%16 != 0 || len(ct) <= len(tt.plain) {
				t.Errorf("ciphertext length = %d for plaintext length %d", len(ct), len(tt.plain))
			}

			got, err := Decrypt(testKey, ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, tt.plain) {
				t.Errorf("Decrypt() = %x, want %x", got, tt.plain)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	ct, err := Encrypt(testKey, []byte(`{"dps":{"1":false}}`))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// A wrong key yields valid padding with probability ~1/256; these two
	// keys are known not to.
	_, err = Decrypt(DiscoveryKey(), ct)
	if !errors.Is(err, ErrBadPadding) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrBadPadding", err)
	}
}

func TestDecryptCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "not aligned", data: make([]byte, 17)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(testKey, tt.data)
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("Decrypt() error = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestKeySize(t *testing.T) {
	if _, err := Encrypt([]byte("short"), []byte("x")); !errors.Is(err, ErrKeySize) {
		t.Errorf("Encrypt() error = %v, want ErrKeySize", err)
	}
	if _, err := Decrypt(make([]byte, 32), make([]byte, 16)); !errors.Is(err, ErrKeySize) {
		t.Errorf("Decrypt() error = %v, want ErrKeySize", err)
	}
}

func TestUnpad(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "valid", data: append(bytes.Repeat([]byte{'a'}, 12), 4, 4, 4, 4)},
		{name: "zero pad byte", data: append(bytes.Repeat([]byte{'a'}, 15), 0), wantErr: true},
		{name: "pad too large", data: append(bytes.Repeat([]byte{'a'}, 15), 17), wantErr: true},
		{name: "inconsistent", data: append(bytes.Repeat([]byte{'a'}, 13), 1, 3, 3), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := unpad(tt.data, 16)
			if (err != nil) != tt.wantErr {
				t.Errorf("unpad() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
