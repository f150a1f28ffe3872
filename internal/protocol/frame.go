package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Frame layout constants
const (
	FramePrefix uint32 = 0x000055AA
	FrameSuffix uint32 = 0x0000AA55

	HeaderSize    = 16 // prefix + sequence + kind + length
	TrailerSize   = 8  // crc32 + suffix
	MinFrameSize  = HeaderSize + TrailerSize
	ReturnCodeLen = 4

	// MaxPayloadSize bounds the length field so a corrupt header cannot make
	// the decoder wait for gigabytes of data.
	MaxPayloadSize = 64 * 1024
)

// Version is the only protocol version this package speaks.
const Version = "3.3"

// VersionHeaderSize is the width of the ASCII version header that precedes
// the ciphertext of most client frames ("3.3" followed by zero bytes).
const VersionHeaderSize = 15

// statusPrefixLen is what a device STATUS frame carries between the return
// code and the ciphertext. It is the version header, but firmware sends it
// with varying content, so it is skipped by length rather than matched.
const statusPrefixLen = VersionHeaderSize

var (
	// ErrShortFrame means the buffer ends before the frame does.
	ErrShortFrame = errors.New("protocol: frame too short")
	// ErrBadPrefix means the buffer does not start with the frame prefix.
	ErrBadPrefix = errors.New("protocol: bad frame prefix")
	// ErrBadLength means the header length field is out of range.
	ErrBadLength = errors.New("protocol: bad payload length")
	// ErrMissingSuffix means the frame suffix is not where the length says.
	ErrMissingSuffix = errors.New("protocol: missing frame suffix")
	// ErrChecksum means the CRC32 does not match the frame contents.
	ErrChecksum = errors.New("protocol: checksum mismatch")
	// ErrUnsupportedVersion is returned for any version other than 3.3.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
)

// frameHeader is the fixed 16-byte header shared by both directions.
type frameHeader struct {
	Sequence   uint32
	Kind       CommandKind
	PayloadLen uint32 // body + trailer, as on the wire
}

func readHeader(buf []byte) frameHeader {
	return frameHeader{
		Sequence:   binary.BigEndian.Uint32(buf[4:8]),
		Kind:       CommandKind(binary.BigEndian.Uint32(buf[8:12])),
		PayloadLen: binary.BigEndian.Uint32(buf[12:16]),
	}
}

// frameLen is the total size on the wire of a frame with this header.
func (h frameHeader) frameLen() int {
	return HeaderSize + int(h.PayloadLen)
}

// buildFrame wraps body into a complete frame with checksum and suffix.
func buildFrame(sequence uint32, kind CommandKind, body []byte) []byte {
	frame := make([]byte, HeaderSize+len(body)+TrailerSize)

	binary.BigEndian.PutUint32(frame[0:4], FramePrefix)
	binary.BigEndian.PutUint32(frame[4:8], sequence)
	binary.BigEndian.PutUint32(frame[8:12], uint32(kind))
	binary.BigEndian.PutUint32(frame[12:16], uint32(len(body)+TrailerSize))
	copy(frame[HeaderSize:], body)

	crcAt := HeaderSize + len(body)
	binary.BigEndian.PutUint32(frame[crcAt:crcAt+4], crc32.ChecksumIEEE(frame[:crcAt]))
	binary.BigEndian.PutUint32(frame[crcAt+4:], FrameSuffix)

	return frame
}

// versionHeader returns "3.3" padded with zero bytes to VersionHeaderSize.
func versionHeader(version string) []byte {
	h := make([]byte, VersionHeaderSize)
	copy(h, version)
	return h
}

// CheckVersion reports whether version is supported.
func CheckVersion(version string) error {
	if version != Version {
		return fmt.Errorf("%w: %q (only %s is supported)", ErrUnsupportedVersion, version, Version)
	}
	return nil
}
