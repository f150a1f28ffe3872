package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyalink/internal/config"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/ui"
)

// Decode command flags
var (
	decodeKey       string
	decodeDevice    string
	decodeDiscovery bool
	decodeFile      string
)

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.Flags().StringVar(&decodeKey, "key", "", "16-character local key")
	decodeCmd.Flags().StringVar(&decodeDevice, "device", "", "Take the key from this configured device")
	decodeCmd.Flags().BoolVar(&decodeDiscovery, "discovery", false, "Use the broadcast key (UDP captures)")
	decodeCmd.Flags().StringVar(&decodeFile, "file", "", "Read hex captures from a file, one per line ('-' for stdin)")
}

// decodeCmd decodes captured frames offline
var decodeCmd = &cobra.Command{
	Use:   "decode [hex...]",
	Short: "Decode captured frames",
	Long: `Decode hex-encoded frames captured from the network, for example with
tcpdump or Wireshark, and print every message with its decrypted payload.

Each argument or file line is one capture and may hold several frames
back to back. Frames that fail framing or checksum validation are
reported and skipped.`,
	Example: `  # Decode a TCP capture with a configured device's key
  tuyalink decode --device bf0123456789abcdef 000055aa00000001...

  # Decode UDP broadcasts saved one per line
  tuyalink decode --discovery --file broadcasts.txt`,
	RunE: runDecode,
}

func runDecode(cmd *cobra.Command, args []string) error {
	codec, err := decodeCodec()
	if err != nil {
		return err
	}

	captures := args
	if decodeFile != "" {
		lines, err := readCaptures(decodeFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		captures = append(captures, lines...)
	}
	if len(captures) == 0 {
		return errors.New("nothing to decode; pass hex captures as arguments or use --file")
	}

	out := cmd.OutOrStdout()
	table := ui.NewTable("#", "SEQ", "KIND", "RC", "KEY", "PAYLOAD")
	var failures []string

	for i, capture := range captures {
		data, err := hex.DecodeString(strings.Join(strings.Fields(capture), ""))
		if err != nil {
			failures = append(failures, fmt.Sprintf("capture %d: invalid hex: %v", i+1, err))
			continue
		}

		msgs, err := codec.Decode(data)
		if err != nil {
			failures = append(failures, fmt.Sprintf("capture %d: %v", i+1, err))
		}
		for _, m := range msgs {
			rc := ""
			if m.HasReturnCode {
				rc = strconv.FormatUint(uint64(m.ReturnCode), 10)
			}
			payload := m.Text
			if !m.IsText() && len(m.Payload) > 0 {
				payload = hex.EncodeToString(m.Payload)
			}
			table.AddRow(strconv.Itoa(i+1), strconv.FormatUint(uint64(m.Sequence), 10),
				m.Kind.String(), rc, m.Decryption.String(), payload)
		}
	}

	if len(table.Rows) > 0 {
		fmt.Fprintln(out, table.Render())
	}
	for _, f := range failures {
		fmt.Fprintln(out, ui.ErrorMessageStyle.Render(ui.FailureMarker+" "+f))
	}
	if len(table.Rows) == 0 {
		return errors.New("no frames decoded")
	}
	return nil
}

func decodeCodec() (*protocol.Codec, error) {
	switch {
	case decodeDiscovery:
		return protocol.NewDiscoveryCodec(), nil
	case decodeKey != "":
		return protocol.NewCodec(protocol.Version, []byte(decodeKey))
	case decodeDevice != "":
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		dev, ok := cfg.Devices[decodeDevice]
		if !ok {
			return nil, fmt.Errorf("device %s is not configured", decodeDevice)
		}
		return protocol.NewCodec(dev.Record(decodeDevice).Version, []byte(dev.LocalKey))
	default:
		return nil, errors.New("one of --key, --device or --discovery is required")
	}
}

// readCaptures returns the non-empty, non-comment lines of path.
func readCaptures(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open captures: %w", err)
		}
		defer f.Close()
		r = f
	}

	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read captures: %w", err)
	}
	return lines, nil
}
