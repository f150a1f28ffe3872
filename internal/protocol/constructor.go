package protocol

import (
	"bytes"
	"fmt"

	"github.com/muurk/tuyalink/internal/cipher"
)

// Codec encodes and decodes frames for one device. It holds the device key
// and the discovery key used as a decryption fallback; it has no other
// state and is safe for concurrent use.
type Codec struct {
	version  string
	key      []byte
	fallback []byte
}

// NewCodec creates a codec for the given protocol version and device key.
// Only version 3.3 is supported.
func NewCodec(version string, key []byte) (*Codec, error) {
	if err := CheckVersion(version); err != nil {
		return nil, err
	}
	if len(key) != cipher.KeySize {
		return nil, fmt.Errorf("%w: got %d", cipher.ErrKeySize, len(key))
	}
	return &Codec{
		version:  version,
		key:      bytes.Clone(key),
		fallback: cipher.DiscoveryKey(),
	}, nil
}

// NewDiscoveryCodec creates a codec keyed with the shared discovery key.
func NewDiscoveryCodec() *Codec {
	c, _ := NewCodec(Version, cipher.DiscoveryKey())
	return c
}

// Version returns the protocol version the codec speaks.
func (c *Codec) Version() string {
	return c.version
}

// Encode builds a complete client frame for payload.
//
// Frame Structure:
//
//	[0-3]    0x000055AA     Prefix
//	[4-7]    sequence       0 when no sequence is meaningful
//	[8-11]   kind           Command code
//	[12-15]  length         len(body) + 8
//	[16+]    body           ["3.3" + 12 zero bytes] + AES ciphertext
//	[N-8]    crc32          IEEE CRC over bytes [0, N-8)
//	[N-4]    0x0000AA55     Suffix
//
// The version header is omitted for DP_QUERY frames.
func (c *Codec) Encode(payload []byte, kind CommandKind, sequence uint32) ([]byte, error) {
	ct, err := cipher.Encrypt(c.key, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt %s payload: %w", kind, err)
	}

	body := ct
	if kind.hasVersionHeader() {
		body = append(versionHeader(c.version), ct...)
	}

	if len(body)+TrailerSize > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(body)+TrailerSize, MaxPayloadSize)
	}

	return buildFrame(sequence, kind, body), nil
}
