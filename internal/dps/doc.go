// Package dps maps Tuya data points to named device properties.
//
// Devices report and accept state as a "dps" object keyed by data point
// number: {"1":true,"3":128}. Which number means what depends on the kind of
// device, so each supported kind has a static Profile naming its properties:
//
//	powerplug    power(1)
//	colorled     power(1) color_mode(2) brightness(3) color_temperature(4) color(5)
//	filamentled  power(1) brightness(2) color_temperature(3)
//	siren        volume(5) alarm(13)
//	curtain      power(1)
//
// Levels such as brightness are exposed as fractions in [0, 1] and sent as
// bytes in [0, 255].
//
// # Usage Example
//
//	profile, _ := dps.Lookup("colorled")
//	item, err := profile.Command("bf01", "brightness", "0.5", time.Now())
//	if err != nil {
//	    return err
//	}
//	sess.SendItem(item)
//
//	state := dps.NewState(profile)
//	status, _ := dps.ParseStatus(msg)
//	state.Apply(status, func(c dps.Change) {
//	    fmt.Printf("%s = %v\n", c.Property.Name, c.Value)
//	})
package dps
