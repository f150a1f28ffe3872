// Package config manages the tuyalink configuration file.
//
// Devices announce their address and protocol version on the network but
// never their local key, so the keys live here, together with engine tuning
// and the optional NATS and HTTP outputs.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/tuyalink/config.yaml or $HOME/.config/tuyalink/config.yaml
//   - macOS: $HOME/.config/tuyalink/config.yaml
//   - Windows: %LOCALAPPDATA%\tuyalink\config.yaml
//
// # File Format
//
//	version: 1
//	devices:
//	  bf0123456789abcdef:
//	    name: Desk lamp
//	    local_key: 0123456789abcdef
//	    profile: colorled
//	engine:
//	  ip_policy: refresh
//	  heartbeat_interval: 15s
//	nats:
//	  url: nats://localhost:4222
//	http:
//	  addr: :8080
//	  advertise: true
//
// # Security
//
// Local keys are stored in clear text. Save writes the file with 0600
// permissions.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engineCfg, err := cfg.EngineConfig()
package config
