package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/tuyalink/internal/config"
	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/version"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configPath = ""
		initForce = false
		addKey, addName, addIP, addProfile = "", "", "", ""
		decodeKey, decodeDevice, decodeFile, decodeDiscovery = "", "", "", false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "tuyalink "+version.Full()+"\n", out)
}

func TestConfigInitAndAdd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "config", "add", "bf01",
		"--key", "0123456789abcdef", "--name", "Desk lamp", "--profile", "colorled", "--ip", "192.168.1.20")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	dev := cfg.Devices["bf01"]
	require.NotNil(t, dev)
	assert.Equal(t, "Desk lamp", dev.Name)
	assert.Equal(t, "colorled", dev.Profile)
	assert.Equal(t, "192.168.1.20", dev.IP)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Desk lamp")
	assert.Contains(t, out, "01************ef")
	assert.NotContains(t, out, "0123456789abcdef")
}

func TestConfigAddRejectsBadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", path, "config", "add", "bf01", "--key", "short")
	assert.ErrorContains(t, err, "local_key")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Devices, "an invalid device must not be saved")
}

func TestSendRequiresConfiguredDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", path, "send", "bf01", "power", "on")
	assert.ErrorContains(t, err, "not configured")
}

func TestSendRejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := execute(t, "--config", path, "config", "add", "bf01", "--key", "0123456789abcdef", "--ip", "127.0.0.1")
	require.NoError(t, err)

	_, err = execute(t, "--config", path, "send", "bf01", "volume", "low")
	assert.ErrorContains(t, err, "unknown property")

	_, err = execute(t, "--config", path, "send", "bf01", "power", "maybe")
	assert.ErrorContains(t, err, "invalid boolean")
}

func TestProfilesCommand(t *testing.T) {
	out, err := execute(t, "profiles")
	require.NoError(t, err)
	for _, want := range []string{"powerplug", "colorled", "siren", "volume", "mute, low, middle, high"} {
		assert.Contains(t, out, want)
	}
}

func TestDiscoverRejectsFormat(t *testing.T) {
	_, err := execute(t, "discover", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
	discoverFormat = "table"
}

func TestDeviceOutput(t *testing.T) {
	cfg := config.NewConfig()
	cfg.EnsureDevice("bf01").Name = "Desk lamp"

	devices := []discovery.DeviceRecord{
		{ID: "bf01", IP: "192.168.1.20", Version: "3.3", ProductKey: "keyabc", LocalKey: []byte("0123456789abcdef")},
		{ID: "bf02", IP: "192.168.1.21", Version: "3.3"},
	}

	table := deviceTable(cfg, devices).Render()
	assert.Contains(t, table, "Desk lamp")
	assert.Contains(t, table, "keyabc")

	var buf bytes.Buffer
	require.NoError(t, writeDevicesJSON(&buf, cfg, devices))
	assert.NotContains(t, buf.String(), "0123456789abcdef")

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Desk lamp", got[0]["name"])
	assert.Equal(t, true, got[0]["configured"])
	assert.Equal(t, false, got[1]["configured"])
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"0123456789abcdef": "01************ef",
		"abcd":             "abcd",
		"abc":              "***",
		"":                 "",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
	assert.False(t, strings.Contains(maskKey("0123456789abcdef"), "2345"))
}

func encodedFrame(t *testing.T, payload string, kind protocol.CommandKind, seq uint32) string {
	t.Helper()
	codec, err := protocol.NewCodec(protocol.Version, []byte("0123456789abcdef"))
	require.NoError(t, err)
	frame, err := codec.Encode([]byte(payload), kind, seq)
	require.NoError(t, err)
	return hex.EncodeToString(frame)
}

func TestDecodeCommand(t *testing.T) {
	frame := encodedFrame(t, `{"devId":"bf01","dps":{"1":true},"t":1}`, protocol.CommandControl, 7)

	out, err := execute(t, "decode", "--key", "0123456789abcdef", frame)
	require.NoError(t, err)
	assert.Contains(t, out, "CONTROL")
	assert.Contains(t, out, `{"devId":"bf01","dps":{"1":true},"t":1}`)
	assert.Contains(t, out, "7")
}

func TestDecodeCommandFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.txt")
	content := "# heartbeat then a bad line\n" +
		encodedFrame(t, "{}", protocol.CommandHeartbeat, 1) + "\n" +
		"not hex\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	out, err := execute(t, "decode", "--key", "0123456789abcdef", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "HEARTBEAT")
	assert.Contains(t, out, "capture 2: invalid hex")
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := execute(t, "decode", "000055aa")
	assert.ErrorContains(t, err, "--key")

	_, err = execute(t, "decode", "--key", "short", "000055aa")
	assert.Error(t, err)

	_, err = execute(t, "decode", "--discovery")
	assert.ErrorContains(t, err, "nothing to decode")

	_, err = execute(t, "decode", "--discovery", "000055aa")
	assert.ErrorContains(t, err, "no frames decoded")
}
