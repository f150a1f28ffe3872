package protocol

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/muurk/tuyalink/internal/cipher"
)

var (
	prefixBytes = binary.BigEndian.AppendUint32(nil, FramePrefix)
	suffixBytes = binary.BigEndian.AppendUint32(nil, FrameSuffix)
)

// Decode decodes every frame in buf. A buffer may hold several concatenated
// frames; a frame that fails framing or checksum validation is dropped and
// decoding continues with the next one. The returned error joins the
// failures of all dropped frames and is nil when every frame decoded.
//
// Decode expects whole frames (one UDP datagram, one capture). Use
// DecodeStream for TCP data where the last frame may still be in flight.
func (c *Codec) Decode(buf []byte) ([]Message, error) {
	msgs, n, err := c.DecodeStream(buf)
	if n < len(buf) {
		err = errors.Join(err, fmt.Errorf("%w: %d trailing bytes", ErrShortFrame, len(buf)-n))
	}
	return msgs, err
}

// DecodeStream decodes the complete frames at the start of buf and returns
// how many bytes were consumed. Bytes after consumed belong to a frame that
// has not fully arrived yet and should be retained by the caller.
func (c *Codec) DecodeStream(buf []byte) ([]Message, int, error) {
	var (
		msgs []Message
		errs []error
		off  int
	)

	for off < len(buf) {
		msg, n, err := c.decodeFrame(buf[off:])
		if errors.Is(err, ErrShortFrame) {
			break
		}
		off += n
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	return msgs, off, errors.Join(errs...)
}

// decodeFrame decodes the frame at the start of buf. It returns the number
// of bytes consumed, which is non-zero for every error except ErrShortFrame.
func (c *Codec) decodeFrame(buf []byte) (Message, int, error) {
	if len(buf) < len(prefixBytes) {
		return Message{}, 0, ErrShortFrame
	}

	// Resynchronise on the next prefix; keep the last three bytes in case
	// they are the start of one.
	if !bytes.HasPrefix(buf, prefixBytes) {
		if i := bytes.Index(buf[1:], prefixBytes); i >= 0 {
			return Message{}, i + 1, fmt.Errorf("%w: skipped %d bytes", ErrBadPrefix, i+1)
		}
		n := len(buf) - (len(prefixBytes) - 1)
		return Message{}, n, fmt.Errorf("%w: skipped %d bytes", ErrBadPrefix, n)
	}

	if len(buf) < MinFrameSize {
		return Message{}, 0, ErrShortFrame
	}

	hdr := readHeader(buf)
	if hdr.PayloadLen < TrailerSize || hdr.PayloadLen > MaxPayloadSize {
		return Message{}, len(prefixBytes), fmt.Errorf("%w: %d", ErrBadLength, hdr.PayloadLen)
	}

	end := hdr.frameLen()
	if len(buf) < end {
		return Message{}, 0, ErrShortFrame
	}

	if !bytes.Equal(buf[end-4:end], suffixBytes) {
		// Length and suffix disagree; drop through the next suffix marker.
		if i := bytes.Index(buf[HeaderSize:], suffixBytes); i >= 0 {
			return Message{}, HeaderSize + i + len(suffixBytes),
				fmt.Errorf("%w: sequence %d", ErrMissingSuffix, hdr.Sequence)
		}
		return Message{}, end, fmt.Errorf("%w: sequence %d", ErrMissingSuffix, hdr.Sequence)
	}

	crcAt := end - TrailerSize
	expected := binary.BigEndian.Uint32(buf[crcAt : crcAt+4])
	computed := crc32.ChecksumIEEE(buf[:crcAt])
	if expected != computed {
		return Message{}, end, fmt.Errorf("%w: sequence %d kind %s expected 0x%08x computed 0x%08x",
			ErrChecksum, hdr.Sequence, hdr.Kind, expected, computed)
	}

	return c.buildMessage(hdr, buf[HeaderSize:crcAt]), end, nil
}

// buildMessage strips the optional return code and version header from body
// and decrypts what remains.
func (c *Codec) buildMessage(hdr frameHeader, body []byte) Message {
	msg := Message{
		Sequence: hdr.Sequence,
		Kind:     hdr.Kind,
	}

	// Device frames start with a return code whose upper bytes are zero.
	// Ciphertext is block aligned, so an aligned body never has one.
	if len(body) >= ReturnCodeLen && len(body)%aes.BlockSize != 0 &&
		binary.BigEndian.Uint32(body)&0xFFFFFF00 == 0 {
		msg.ReturnCode = binary.BigEndian.Uint32(body)
		msg.HasReturnCode = true
		body = body[ReturnCodeLen:]
	}

	switch {
	case msg.HasReturnCode && hdr.Kind == CommandStatus && len(body) >= statusPrefixLen:
		body = body[statusPrefixLen:]
	case len(body) >= VersionHeaderSize && (len(body)-VersionHeaderSize)%aes.BlockSize == 0 &&
		bytes.HasPrefix(body, []byte(c.version)):
		body = body[VersionHeaderSize:]
	}

	if len(body) == 0 {
		msg.Decryption = DecryptEmpty
		return msg
	}

	msg.Payload, msg.Decryption = c.decrypt(body)
	if msg.Decryption != DecryptFailed && printableText(msg.Payload) {
		msg.Text = string(msg.Payload)
	}
	return msg
}

// decrypt tries the device key, then the discovery key. Devices sometimes
// answer with the shared key, so a padding failure is expected control
// flow and reported through the outcome rather than an error.
func (c *Codec) decrypt(ciphertext []byte) ([]byte, DecryptOutcome) {
	plain, err := cipher.Decrypt(c.key, ciphertext)
	if err == nil {
		return plain, DecryptPrimary
	}

	if errors.Is(err, cipher.ErrBadPadding) && !bytes.Equal(c.key, c.fallback) {
		if plain, err := cipher.Decrypt(c.fallback, ciphertext); err == nil {
			return plain, DecryptFallback
		}
	}

	return bytes.Clone(ciphertext), DecryptFailed
}
