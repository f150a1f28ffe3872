package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/muurk/tuyalink/internal/cipher"
)

func TestNewCodec(t *testing.T) {
	tests := []struct {
		name    string
		version string
		key     []byte
		wantErr error
	}{
		{name: "valid", version: "3.3", key: testKey},
		{name: "version 3.1", version: "3.1", key: testKey, wantErr: ErrUnsupportedVersion},
		{name: "version 3.4", version: "3.4", key: testKey, wantErr: ErrUnsupportedVersion},
		{name: "empty version", version: "", key: testKey, wantErr: ErrUnsupportedVersion},
		{name: "short key", version: "3.3", key: []byte("short"), wantErr: cipher.ErrKeySize},
		{name: "nil key", version: "3.3", key: nil, wantErr: cipher.ErrKeySize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := NewCodec(tt.version, tt.key)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewCodec() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCodec() unexpected error = %v", err)
			}
			if codec.Version() != tt.version {
				t.Errorf("Version() = %q, want %q", codec.Version(), tt.version)
			}
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	codec := newTestCodec(t)
	payload := []byte(`{"1":true}`)

	frame, err := codec.Encode(payload, CommandControl, 5)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	ct, err := cipher.Encrypt(testKey, payload)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	wantBody := append(versionHeader(Version), ct...)

	if len(frame) != HeaderSize+len(wantBody)+TrailerSize {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderSize+len(wantBody)+TrailerSize)
	}

	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"prefix", binary.BigEndian.Uint32(frame[0:4]), FramePrefix},
		{"sequence", binary.BigEndian.Uint32(frame[4:8]), 5},
		{"kind", binary.BigEndian.Uint32(frame[8:12]), uint32(CommandControl)},
		{"length", binary.BigEndian.Uint32(frame[12:16]), uint32(len(wantBody) + TrailerSize)},
		{"crc", binary.BigEndian.Uint32(frame[len(frame)-8:]), crc32.ChecksumIEEE(frame[:len(frame)-8])},
		{"suffix", binary.BigEndian.Uint32(frame[len(frame)-4:]), FrameSuffix},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = 0x%08x, want 0x%08x", c.name, c.got, c.want)
		}
	}

	if !bytes.Equal(frame[HeaderSize:len(frame)-TrailerSize], wantBody) {
		t.Errorf("body = %x, want %x", frame[HeaderSize:len(frame)-TrailerSize], wantBody)
	}
	if !bytes.Equal(frame[HeaderSize:HeaderSize+3], []byte("3.3")) {
		t.Errorf("version header = %q, want 3.3", frame[HeaderSize:HeaderSize+3])
	}
}

func TestEncodeDPQueryOmitsVersionHeader(t *testing.T) {
	codec := newTestCodec(t)
	payload := []byte(`{"gwId":"bf01","devId":"bf01"}`)

	frame, err := codec.Encode(payload, CommandDPQuery, 1)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	ct, _ := cipher.Encrypt(testKey, payload)
	if got := frame[HeaderSize : len(frame)-TrailerSize]; !bytes.Equal(got, ct) {
		t.Errorf("DP_QUERY body = %x, want bare ciphertext %x", got, ct)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	codec := newTestCodec(t)

	_, err := codec.Encode(make([]byte, MaxPayloadSize), CommandControl, 1)
	if err == nil {
		t.Error("Encode() should reject payloads larger than MaxPayloadSize")
	}
}

func TestDiscoveryCodec(t *testing.T) {
	codec := NewDiscoveryCodec()
	announcement := []byte(`{"ip":"192.168.1.20","gwId":"bf01","active":2,"ability":0,"mode":0,"encrypt":true,"productKey":"keyabc","version":"3.3"}`)

	ct, err := cipher.Encrypt(cipher.DiscoveryKey(), announcement)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	datagram := buildFrame(0, CommandUDPNew, append(binary.BigEndian.AppendUint32(nil, 0), ct...))

	msgs, err := codec.Decode(datagram)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Decode() returned %d messages, want 1", len(msgs))
	}
	if msgs[0].Kind != CommandUDPNew || msgs[0].Decryption != DecryptPrimary {
		t.Errorf("Decode() = %v, want UDP_NEW decrypted with the primary key", msgs[0])
	}

	var body struct {
		GwID string `json:"gwId"`
	}
	if err := msgs[0].Unmarshal(&body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.GwID != "bf01" {
		t.Errorf("gwId = %q, want bf01", body.GwID)
	}
}

func TestCommandKindString(t *testing.T) {
	tests := []struct {
		kind CommandKind
		want string
		ok   bool
	}{
		{CommandControl, "CONTROL", true},
		{CommandStatus, "STATUS", true},
		{CommandHeartbeat, "HEARTBEAT", true},
		{CommandDPQuery, "DP_QUERY", true},
		{CommandUDPNew, "UDP_NEW", true},
		{CommandLANSetGatewayChannel, "LAN_SET_GW_CHANNEL", true},
		{CommandKind(15), "UNKNOWN(15)", false},
		{CommandKind(999), "UNKNOWN(999)", false},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := tt.kind.Known(); got != tt.ok {
				t.Errorf("Known() = %v, want %v", got, tt.ok)
			}
		})
	}
}

func TestMessageUnmarshalBinary(t *testing.T) {
	msg := Message{Kind: CommandControl, Payload: []byte{0x00, 0xFF}, Decryption: DecryptFailed}

	var v map[string]any
	if err := msg.Unmarshal(&v); err == nil {
		t.Error("Unmarshal() of a binary payload should fail")
	}
}
