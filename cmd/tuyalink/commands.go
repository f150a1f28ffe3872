package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/tuyalink/internal/bridge"
	"github.com/muurk/tuyalink/internal/config"
	"github.com/muurk/tuyalink/internal/discovery"
	"github.com/muurk/tuyalink/internal/dps"
	"github.com/muurk/tuyalink/internal/engine"
	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/muurk/tuyalink/internal/server"
	"github.com/muurk/tuyalink/internal/session"
	"github.com/muurk/tuyalink/internal/ui"
)

// Command flags
var (
	discoverTimeout time.Duration
	discoverFormat  string

	monitorNATS      string
	monitorPrefix    string
	monitorHTTP      string
	monitorAdvertise bool
	monitorRaw       bool

	sendTimeout time.Duration

	initForce bool

	addKey     string
	addName    string
	addIP      string
	addProfile string
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(configCmd)

	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 10*time.Second, "How long to listen for broadcasts")
	discoverCmd.Flags().StringVar(&discoverFormat, "format", "table", "Output format (table, json)")

	monitorCmd.Flags().StringVar(&monitorNATS, "nats", "", "NATS server URL (overrides the config file)")
	monitorCmd.Flags().StringVar(&monitorPrefix, "prefix", "", "NATS subject prefix (default \"tuya\")")
	monitorCmd.Flags().StringVar(&monitorHTTP, "http", "", "Serve the API and event feed on this address (e.g. :8668)")
	monitorCmd.Flags().BoolVar(&monitorAdvertise, "advertise", false, "Announce the event feed over mDNS")
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Also print every decoded message")

	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the device to answer")

	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	configAddCmd.Flags().StringVar(&addKey, "key", "", "16-character device local key")
	configAddCmd.Flags().StringVar(&addName, "name", "", "Friendly name")
	configAddCmd.Flags().StringVar(&addIP, "ip", "", "Fixed IP address, for networks where broadcasts do not arrive")
	configAddCmd.Flags().StringVar(&addProfile, "profile", "", "Data point profile (see 'tuyalink profiles')")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configAddCmd)
	configCmd.AddCommand(configShowCmd)
}

// discoverCmd listens for device broadcasts
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for Tuya devices on the network",
	Long: `Listen for the UDP broadcasts Tuya devices send every few seconds and
list every device heard, with its address and protocol version.

Devices marked with a key are present in the config file and can be
controlled with 'tuyalink send'.`,
	Example: `  # Listen for 10 seconds (default)
  tuyalink discover

  # Longer scan for devices that broadcast slowly
  tuyalink discover --timeout 30s

  # JSON output for scripting
  tuyalink discover --format json`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	if discoverFormat != "table" && discoverFormat != "json" {
		return fmt.Errorf("invalid format %q (expected table or json)", discoverFormat)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	registry := discovery.NewRegistry(ec.IPPolicy)
	listener := discovery.NewListener(registry)
	listener.Addr = ec.DiscoveryAddr

	if discoverFormat == "table" {
		fmt.Fprintln(out, ui.NewHeader("Device discovery", "tuyalink discover",
			ui.Param{Key: "Listen", Value: "udp " + listener.Addr},
			ui.Param{Key: "Timeout", Value: discoverTimeout.String()},
		).Render())
		registry.Subscribe(discovery.MatchAll(), func(ev discovery.Event) {
			fmt.Fprintf(out, "  %s %s\n", ui.ActiveMarker, ev.Record)
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	if err := listener.Run(ctx); err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	devices := registry.All()
	if discoverFormat == "json" {
		return writeDevicesJSON(out, cfg, devices)
	}

	fmt.Fprintln(out)
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices found.")
		fmt.Fprintln(out, "\nTroubleshooting:")
		fmt.Fprintln(out, "  - Ensure this machine is on the same subnet as the devices")
		fmt.Fprintln(out, "  - Check that UDP port 6667 is not blocked or already in use")
		fmt.Fprintln(out, "  - Try increasing --timeout")
		fmt.Fprintln(out, "  - Devices on other subnets can be added with 'tuyalink config add --ip'")
		return nil
	}

	fmt.Fprintln(out, deviceTable(cfg, devices).Render())
	fmt.Fprintf(out, "\nFound %d device(s).\n", len(devices))
	return nil
}

type discoveredDevice struct {
	*bridge.DeviceInfo
	Name       string `json:"name,omitempty"`
	Configured bool   `json:"configured"`
}

func writeDevicesJSON(w io.Writer, cfg *config.Config, devices []discovery.DeviceRecord) error {
	list := make([]discoveredDevice, 0, len(devices))
	for _, rec := range devices {
		d := discoveredDevice{DeviceInfo: bridge.NewDeviceInfo(rec)}
		if dev, ok := cfg.Devices[rec.ID]; ok {
			d.Name = dev.Name
			d.Configured = true
		}
		list = append(list, d)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func deviceTable(cfg *config.Config, devices []discovery.DeviceRecord) *ui.Table {
	table := ui.NewTable("ID", "NAME", "IP", "VERSION", "PRODUCT", "KEY")
	for _, rec := range devices {
		name, key := "", ui.IdleMarker
		if dev, ok := cfg.Devices[rec.ID]; ok {
			name, key = dev.Name, ui.SuccessMarker
		}
		table.AddRow(rec.ID, name, rec.IP, rec.Version, rec.ProductKey, key)
	}
	table.CellStyle = func(row, col int, value string) lipgloss.Style {
		if col == 5 && value == ui.SuccessMarker {
			return ui.SuccessTitleStyle
		}
		if col == 4 || (col == 5 && value == ui.IdleMarker) {
			return ui.MutedStyle
		}
		return ui.TableCellStyle
	}
	return table
}

// monitorCmd runs the engine until interrupted
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Keep sessions open and print device events",
	Long: `Open a session to every configured device as soon as it is discovered
(or immediately for devices with a fixed IP) and print every state change.

Sessions send heartbeats, reconnect with exponential backoff and follow
devices that change address when the ip_policy is "refresh".

Events can also be published to NATS and served as a WebSocket feed.`,
	Example: `  # Print events to the terminal
  tuyalink monitor

  # Publish to NATS and accept commands on tuya.device.<id>.set
  tuyalink monitor --nats nats://localhost:4222

  # Serve the API and event feed, announced over mDNS
  tuyalink monitor --http :8668 --advertise`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	natsURL, prefix := monitorNATS, monitorPrefix
	if cfg.NATS != nil {
		if natsURL == "" {
			natsURL = cfg.NATS.URL
		}
		if prefix == "" {
			prefix = cfg.NATS.SubjectPrefix
		}
	}
	httpAddr, advertise := monitorHTTP, monitorAdvertise
	if cfg.HTTP != nil {
		if httpAddr == "" {
			httpAddr = cfg.HTTP.Addr
		}
		advertise = advertise || cfg.HTTP.Advertise
	}

	eng, b, err := newEngine(cfg, true, prefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	params := []ui.Param{
		{Key: "Devices", Value: fmt.Sprintf("%d configured", len(cfg.Devices))},
		{Key: "Discovery", Value: "udp " + discoveryAddr(cfg)},
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	b.AddSink(func(ev bridge.Event) {
		fmt.Fprintln(out, ui.FormatEvent(ev))
	})
	if monitorRaw {
		eng.OnSessionEvent(func(se engine.SessionEvent) {
			if m, ok := se.Event.(session.MessageReceived); ok {
				fmt.Fprintf(out, "%s  %s  %s\n",
					ui.MutedStyle.Render(time.Now().Format("15:04:05")), se.DeviceID, m.Message)
			}
		})
	}

	if natsURL != "" {
		nc, err := bridge.Connect(natsURL)
		if err != nil {
			return err
		}
		defer nc.Close()

		b.AddSink(bridge.NATSSink(nc, b.Prefix()))
		g.Go(func() error {
			return b.Serve(ctx, nc)
		})
		params = append(params, ui.Param{Key: "NATS", Value: natsURL + " (" + b.Prefix() + ".device.>)"})
	}

	if httpAddr != "" {
		srv, err := server.New(server.Config{Addr: httpAddr, Advertise: advertise}, eng, b)
		if err != nil {
			return err
		}
		if err := srv.Listen(); err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Serve(ctx)
		})
		params = append(params, ui.Param{Key: "HTTP", Value: srv.Addr().String()})
	}

	fmt.Fprintln(out, ui.NewHeader("Device monitor", "tuyalink monitor", params...).Render())
	if len(cfg.Devices) == 0 {
		fmt.Fprintln(out, ui.MutedStyle.Render("  No devices configured; only discovery events will be shown."))
	}

	b.Attach()
	defer b.Detach()

	g.Go(func() error {
		return eng.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sendCmd writes one property
var sendCmd = &cobra.Command{
	Use:   "send <gwId> <property> <value>",
	Short: "Set a data point on a device",
	Long: `Connect to a configured device, write one property and wait for the
device to acknowledge it.

Properties and accepted values depend on the device profile; see
'tuyalink profiles'. Booleans accept on/off, levels accept 0-1 or a
percentage such as 50%, colours are RGB hex.`,
	Example: `  # Switch a plug on
  tuyalink send bf0123456789abcdef power on

  # Dim a colour bulb to 30%
  tuyalink send bf0123456789abcdef brightness 30%

  # Set a colour
  tuyalink send bf0123456789abcdef color ff8000`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	id, property, value := args[0], args[1], args[2]
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dev, ok := cfg.Devices[id]
	if !ok {
		return fmt.Errorf("device %s is not configured; add it with 'tuyalink config add %s --key <local key>'", id, id)
	}

	eng, b, err := newEngine(cfg, false, "")
	if err != nil {
		return err
	}

	// Reject bad input before touching the network.
	if _, err := b.Profile(id).Command(id, property, value, time.Now()); err != nil {
		return err
	}

	events := make(chan session.Event, 16)
	eng.OnSessionEvent(func(se engine.SessionEvent) {
		if se.DeviceID != id {
			return
		}
		select {
		case events <- se.Event:
		default:
		}
	})

	found := make(chan struct{}, 1)
	sub := eng.Registry().Subscribe(discovery.MatchID(id), func(discovery.Event) {
		select {
		case found <- struct{}{}:
		default:
		}
	})
	defer eng.Registry().Unsubscribe(sub)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	runCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(runCtx)
	}()
	defer func() {
		stopEngine()
		<-engineDone
	}()

	fail := func(err error) error {
		fmt.Fprintln(out, ui.NewFailureResult("Send failed", err).Render())
		return err
	}

	select {
	case <-found:
	case <-ctx.Done():
		return fail(fmt.Errorf("device %s was not discovered within %s", id, sendTimeout))
	}

	res, err := b.Set(id, property, value)
	if err != nil {
		return fail(err)
	}
	if !res.Accepted() {
		return fail(session.ErrQueueFull)
	}

	var lastErr error
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case session.ConnectionError:
				lastErr = e.Err
			case session.MessageReceived:
				kind := e.Message.Kind
				if kind != protocol.CommandControl && kind != protocol.CommandStatus {
					continue
				}
				details := []ui.Param{
					{Key: "Device", Value: dev.DisplayName(id)},
					{Key: "Property", Value: property},
					{Key: "Value", Value: value},
				}
				if e.Message.IsText() {
					details = append(details, ui.Param{Key: "Reply", Value: e.Message.Text})
				}
				fmt.Fprintln(out, ui.NewSuccessResult("Command acknowledged", details...).Render())
				return nil
			}
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = fmt.Errorf("no reply from %s within %s", id, sendTimeout)
			}
			return fail(lastErr)
		}
	}
}

// profilesCmd lists the data point profiles
var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List device profiles and their properties",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		table := ui.NewTable("PROFILE", "PROPERTY", "DP", "KIND", "VALUES")
		for _, name := range dps.Names() {
			p, _ := dps.Lookup(name)
			for i, prop := range p.Properties {
				profile := name
				if i > 0 {
					profile = ""
				}
				table.AddRow(profile, prop.Name, prop.DP, prop.Kind.String(), strings.Join(prop.Values(), ", "))
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), table.Render())
	},
}

// configCmd groups config file commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
		if err := config.NewConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.NewSuccessResult("Configuration written",
			ui.Param{Key: "Path", Value: path}).Render())
		return nil
	},
}

var configAddCmd = &cobra.Command{
	Use:   "add <gwId>",
	Short: "Add or update a device",
	Example: `  # Add a colour bulb found with 'tuyalink discover'
  tuyalink config add bf0123456789abcdef --key 0123456789abcdef --name "Desk lamp" --profile colorled`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		id := args[0]
		dev := cfg.EnsureDevice(id)
		if addKey != "" {
			dev.LocalKey = addKey
		}
		if addName != "" {
			dev.Name = addName
		}
		if addIP != "" {
			dev.IP = addIP
		}
		if addProfile != "" {
			dev.Profile = addProfile
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.NewSuccessResult("Device saved",
			ui.Param{Key: "Device", Value: dev.DisplayName(id)},
			ui.Param{Key: "Path", Value: path}).Render())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List configured devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		table := ui.NewTable("ID", "NAME", "PROFILE", "IP", "KEY")
		for _, id := range deviceIDs(cfg) {
			d := cfg.Devices[id]
			profile := d.Profile
			if profile == "" {
				profile = dps.DefaultProfile
			}
			ip := d.IP
			if ip == "" {
				ip = "(discovered)"
			}
			table.AddRow(id, d.Name, profile, ip, maskKey(d.LocalKey))
		}
		fmt.Fprintln(cmd.OutOrStdout(), table.Render())
		return nil
	},
}

// newEngine builds an engine and bridge for the configured devices.
func newEngine(cfg *config.Config, autoOpen bool, prefix string) (*engine.Engine, *bridge.Bridge, error) {
	ec, err := cfg.EngineConfig()
	if err != nil {
		return nil, nil, err
	}
	ec.AutoOpen = autoOpen

	eng := engine.New(ec)
	b := bridge.New(eng, prefix)

	for _, id := range deviceIDs(cfg) {
		d := cfg.Devices[id]
		profile, err := dps.Lookup(d.Profile)
		if err != nil {
			return nil, nil, fmt.Errorf("device %s: %w", id, err)
		}
		b.SetProfile(id, profile)
		eng.SetLocalKey(id, []byte(d.LocalKey))
		if d.IP != "" {
			eng.AddDevice(d.Record(id))
		}
	}
	return eng, b, nil
}

func deviceIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Devices))
	for id := range cfg.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func discoveryAddr(cfg *config.Config) string {
	if cfg.Engine != nil && cfg.Engine.DiscoveryAddr != "" {
		return cfg.Engine.DiscoveryAddr
	}
	return discovery.DefaultListenAddr
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

// maskKey shows only the first and last characters of a local key.
func maskKey(key string) string {
	if len(key) < 4 {
		return strings.Repeat("*", len(key))
	}
	return key[:2] + strings.Repeat("*", len(key)-4) + key[len(key)-2:]
}
