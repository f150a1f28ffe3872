package discovery

import (
	"testing"
)

func TestDeviceRecord_String(t *testing.T) {
	device := DeviceRecord{
		ID:      "bf0123456789abcdef",
		Version: "3.3",
		IP:      "192.168.1.20",
	}

	expected := "Tuya Device bf0123456789abcdef (v3.3) at 192.168.1.20"
	if device.String() != expected {
		t.Errorf("DeviceRecord.String() = %v, want %v", device.String(), expected)
	}
}

func TestDeviceRecord_Addr(t *testing.T) {
	tests := []struct {
		name     string
		device   DeviceRecord
		port     int
		expected string
	}{
		{
			name:     "default control port",
			device:   DeviceRecord{IP: "192.168.1.20"},
			expected: "192.168.1.20:6668",
		},
		{
			name:     "custom port",
			device:   DeviceRecord{IP: "10.0.0.5"},
			port:     7000,
			expected: "10.0.0.5:7000",
		},
		{
			name:     "ipv6",
			device:   DeviceRecord{IP: "fe80::1"},
			port:     6668,
			expected: "[fe80::1]:6668",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.device.Addr(tt.port); got != tt.expected {
				t.Errorf("DeviceRecord.Addr() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDeviceRecord_Clone(t *testing.T) {
	orig := DeviceRecord{ID: "bf01", LocalKey: []byte("0123456789abcdef")}

	clone := orig.Clone()
	clone.LocalKey[0] = 'X'

	if orig.LocalKey[0] != '0' {
		t.Error("Clone() shares LocalKey with the original")
	}
	if !clone.HasKey() {
		t.Error("HasKey() = false, want true")
	}
	if (DeviceRecord{}).HasKey() {
		t.Error("HasKey() on empty record = true, want false")
	}
}
