// Package protocol implements the Tuya 3.3 LAN wire format.
//
// This package encodes outbound frames and decodes inbound frames for the
// binary protocol spoken by Tuya power plugs, lamps and sirens over TCP port
// 6668 and UDP broadcast port 6667. It performs no I/O.
//
// # Frame Format
//
// All integers are big-endian uint32:
//
//	[prefix 0x000055AA][sequence][kind][length]
//	[return code]          device frames only
//	[body]                 length-8 bytes, see below
//	[crc32][suffix 0x0000AA55]
//
// The CRC32 (IEEE) covers every byte from the prefix to the end of the body.
// The length field counts the body plus the 8-byte trailer.
//
// # Body
//
// Client frames carry a 15-byte version header ("3.3" padded with zero
// bytes) followed by AES-128-ECB ciphertext, except DP_QUERY frames which
// carry the ciphertext alone. Device STATUS frames put the return code in
// front of the version header; the decoder skips both before decrypting.
//
// # Keys
//
// Each device has its own 16-byte local key. A Codec falls back to the
// well-known discovery key when the device key fails to decrypt a payload,
// because devices answer some queries with the shared key. When neither key
// works the ciphertext is returned with DecryptFailed instead of an error.
//
// # Usage Example
//
//	codec, err := protocol.NewCodec("3.3", localKey)
//	if err != nil {
//	    return err
//	}
//
//	frame, err := codec.Encode([]byte(`{"dps":{"1":true}}`), protocol.CommandControl, seq)
//
//	msgs, err := codec.Decode(datagram)
//	for _, msg := range msgs {
//	    fmt.Println(msg)
//	}
//
// # Error Handling
//
// Framing (ErrBadPrefix, ErrBadLength, ErrMissingSuffix) and checksum
// (ErrChecksum) failures drop the offending frame only. Decode returns
// every frame that did decode together with the joined errors of the
// frames that did not.
//
// # Thread Safety
//
// Codec is immutable after construction and safe for concurrent use.
package protocol
