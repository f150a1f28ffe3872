// Package cipher implements the block cipher used by Tuya 3.3 devices:
// AES-128 in ECB mode with PKCS#7 padding.
//
// ECB is what the devices speak; it is not a choice this package makes.
// Every block is processed independently, which the protocol decoder relies
// on when it skips prefixes of a ciphertext.
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"errors"
	"fmt"
)

// KeySize is the only supported key length (AES-128).
const KeySize = 16

// DiscoveryPassphrase is the well-known passphrase shared by all 3.3 devices
// for UDP broadcast announcements.
const DiscoveryPassphrase = "yGAdlopoPVldABfn"

var (
	// ErrKeySize is returned for keys that are not exactly 16 bytes.
	ErrKeySize = errors.New("cipher: key must be 16 bytes")

	// ErrCorrupt means the ciphertext can never decrypt, whatever the key:
	// it is empty or not a multiple of the block size.
	ErrCorrupt = errors.New("cipher: ciphertext is not block aligned")

	// ErrBadPadding means decryption ran but the padding is invalid. With
	// ECB this almost always indicates the wrong key.
	ErrBadPadding = errors.New("cipher: invalid padding")
)

// DeriveKey returns the MD5 digest of passphrase. It is only used for the
// discovery key; per-device keys are raw key material.
func DeriveKey(passphrase string) []byte {
	sum := md5.Sum([]byte(passphrase))
	return sum[:]
}

// DiscoveryKey returns the key that decrypts UDP discovery broadcasts.
func DiscoveryKey() []byte {
	return DeriveKey(DiscoveryPassphrase)
}

// Encrypt pads plain and encrypts it block by block.
func Encrypt(key, plain []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
	}
	return out, nil
}

// Decrypt decrypts ciphertext and strips the padding.
//
// Callers that hold a fallback key should retry on ErrBadPadding only;
// ErrCorrupt cannot be fixed by another key.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrCorrupt, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}
	return unpad(out, aes.BlockSize)
}

func newBlock(key []byte) (interface {
	Encrypt(dst, src []byte)
	Decrypt(dst, src []byte)
}, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return block, nil
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
