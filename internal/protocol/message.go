package protocol

import (
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// DecryptOutcome records which key, if any, decrypted a payload.
type DecryptOutcome int

const (
	// DecryptEmpty means the frame carried no ciphertext.
	DecryptEmpty DecryptOutcome = iota
	// DecryptPrimary means the device key decrypted the payload.
	DecryptPrimary
	// DecryptFallback means the device key failed and the discovery key
	// succeeded.
	DecryptFallback
	// DecryptFailed means no key worked; Payload holds the ciphertext.
	DecryptFailed
)

func (o DecryptOutcome) String() string {
	switch o {
	case DecryptEmpty:
		return "empty"
	case DecryptPrimary:
		return "primary"
	case DecryptFallback:
		return "fallback"
	case DecryptFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Message is one decoded frame. It is a value type constructed by the codec.
type Message struct {
	Sequence      uint32
	Kind          CommandKind
	ReturnCode    uint32
	HasReturnCode bool

	// Payload is the decrypted payload, or the raw ciphertext when
	// Decryption is DecryptFailed.
	Payload []byte

	// Text is Payload as a string when it is printable UTF-8.
	Text string

	Decryption DecryptOutcome
}

// IsText reports whether the payload decoded to printable text.
func (m Message) IsText() bool {
	return m.Text != ""
}

// Unmarshal decodes the textual payload as JSON into v.
func (m Message) Unmarshal(v any) error {
	if !m.IsText() {
		return fmt.Errorf("message %s has no textual payload", m.Kind)
	}
	if err := json.Unmarshal([]byte(m.Text), v); err != nil {
		return fmt.Errorf("failed to parse %s payload: %w", m.Kind, err)
	}
	return nil
}

func (m Message) String() string {
	if m.IsText() {
		return fmt.Sprintf("Message{seq=%d, kind=%s, text=%q}", m.Sequence, m.Kind, m.Text)
	}
	return fmt.Sprintf("Message{seq=%d, kind=%s, payload_len=%d, decryption=%s}",
		m.Sequence, m.Kind, len(m.Payload), m.Decryption)
}

// printableText reports whether data is non-empty UTF-8 made of printable
// characters and ordinary whitespace.
func printableText(data []byte) bool {
	if len(data) == 0 || !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
