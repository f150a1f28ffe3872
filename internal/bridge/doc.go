// Package bridge turns engine activity into JSON events and delivers them
// to sinks such as a NATS connection or the HTTP event feed.
//
// A Bridge subscribes to the device registry and to every session of an
// Engine. Registry events become "found" and "updated" events. Session
// events become "connected", "disconnected" and "error" events. STATUS
// replies are decoded through the device's data point profile and every
// changed property is reported as a "state" event.
//
// # Subjects
//
// On NATS each event is published to
//
//	<prefix>.device.<gwId>.<type>
//
// and commands are accepted on <prefix>.device.<gwId>.set with a body of
//
//	{"property": "brightness", "value": "50%"}
//
// # Usage
//
//	nc, err := bridge.Connect(cfg.NATS.URL)
//	if err != nil {
//	    return err
//	}
//	defer nc.Close()
//
//	b := bridge.New(eng, "tuya")
//	b.SetProfile("bf01", profile)
//	b.AddSink(bridge.NATSSink(nc, "tuya"))
//	b.Attach()
//	defer b.Detach()
//
//	go b.Serve(ctx, nc)
package bridge
