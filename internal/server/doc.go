// Package server serves the device API and a live WebSocket event feed.
//
// The server exposes the engine's registry and sessions over HTTP and
// streams every bridge event to WebSocket clients as JSON text messages.
// It can optionally announce itself over mDNS so dashboards on the LAN
// find it without configuration.
//
// # Routes
//
//	GET /api/health                              engine and feed counters
//	GET /api/devices                             every known device
//	GET /api/devices/{id}                        one device with its state
//	PUT /api/devices/{id}/properties/{property}  {"value": "on"}
//	GET /ws                                      event feed, ?device=<id> filters
//
// # Feed
//
// Each message is one bridge.Event:
//
//	{"type":"state","device_id":"bf01","time":"...","property":"power","value":true}
//
// Clients are read-only. A client that falls behind by more than the send
// buffer is disconnected rather than slowing the engine down.
//
// # Usage
//
//	srv, err := server.New(server.Config{Addr: ":8668", Advertise: true}, eng, b)
//	if err != nil {
//	    return err
//	}
//	b.Attach()
//	return srv.Start(ctx)
package server
