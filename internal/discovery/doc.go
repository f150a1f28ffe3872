// Package discovery finds Tuya devices on the local network and keeps the
// registry of known devices.
//
// Tuya 3.3 devices broadcast an encrypted announcement on UDP port 6667
// every few seconds. The payload is a regular protocol frame encrypted with
// the shared discovery key and carries a JSON body such as:
//
//	{"ip":"192.168.1.20","gwId":"bf0123456789abcdef","active":2,
//	 "ability":0,"mode":0,"encrypt":true,"productKey":"keyabc","version":"3.3"}
//
// # Discovery Process
//
//  1. Listener binds UDP 6667 and reads datagrams with a short deadline
//  2. Each datagram is decoded with the discovery codec
//  3. The announcement becomes a DeviceRecord and is upserted into the Registry
//  4. The Registry emits DeviceFound the first time it sees an ID
//
// # Registry
//
// The Registry holds exactly one record per device ID. What happens when a
// known device reports a different address is set by its IPPolicy: the
// default IPPolicyKeep pins the first address, IPPolicyRefresh updates it
// and emits DeviceUpdated.
//
// Subscribers receive every already known matching device as DeviceFound
// when they subscribe, so late subscribers miss nothing:
//
//	registry := discovery.NewRegistry(discovery.IPPolicyKeep)
//	registry.Subscribe(discovery.MatchID("bf0123456789abcdef"), func(ev discovery.Event) {
//	    fmt.Printf("%s: %s\n", ev.Kind, ev.Record)
//	})
//
//	listener := discovery.NewListener(registry)
//	go listener.Run(ctx)
//
// # Local Keys
//
// Announcements never carry the device key. Keys come from configuration
// and are attached with Registry.SetLocalKey.
//
// # Thread Safety
//
// Registry is safe for concurrent use. A Listener is driven by a single
// goroutine calling Run.
package discovery
