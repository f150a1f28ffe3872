package dps

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownProfile is returned by Lookup for unsupported device kinds.
var ErrUnknownProfile = errors.New("dps: unknown profile")

// ErrUnknownProperty is returned for property names a profile lacks.
var ErrUnknownProperty = errors.New("dps: unknown property")

// Kind is how a property is encoded on the wire.
type Kind int

const (
	// Bool is a JSON boolean.
	Bool Kind = iota
	// Level is a fraction in [0, 1] sent as an integer in [0, 255].
	Level
	// Enum is one of a fixed set of strings.
	Enum
	// Color is an RGB hex string sent with the HSV suffix devices expect.
	Color
	// Band is a fraction in [0, 1] sent as the name of the band it falls in.
	Band
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Level:
		return "level"
	case Enum:
		return "enum"
	case Color:
		return "color"
	case Band:
		return "band"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// band is a named range of levels, upper bound exclusive on encode.
type band struct {
	name  string
	from  float64
	until float64
}

// Property is one named data point.
type Property struct {
	Name string
	DP   string
	Kind Kind

	// Options lists the Enum values; the first maps from "off", the second
	// from "on".
	Options []string

	bands []band

	// implies holds data points set alongside this one, computed from the
	// wire value.
	implies func(wire any) map[string]any
}

// Values describes the accepted input, for help output.
func (p Property) Values() []string {
	switch p.Kind {
	case Bool:
		return []string{"on", "off"}
	case Level:
		return []string{"0-1", "0%-100%"}
	case Color:
		return []string{"rrggbb"}
	case Band:
		names := make([]string, len(p.bands))
		for i, b := range p.bands {
			names[i] = b.name
		}
		return names
	default:
		return p.Options
	}
}

// Profile is the property table of one kind of device.
type Profile struct {
	Name       string
	Properties []Property
}

// Property returns the property called name.
func (p Profile) Property(name string) (Property, bool) {
	for _, prop := range p.Properties {
		if prop.Name == name {
			return prop, true
		}
	}
	return Property{}, false
}

// ByDP returns the property for a data point number.
func (p Profile) ByDP(dp string) (Property, bool) {
	for _, prop := range p.Properties {
		if prop.DP == dp {
			return prop, true
		}
	}
	return Property{}, false
}

// powerFromLevel turns the light on for any non-zero level.
func powerFromLevel(wire any) map[string]any {
	v, _ := wire.(int)
	return map[string]any{"1": v > 0}
}

var sirenVolume = []band{
	{name: "mute", from: 0.0, until: 0.25},
	{name: "low", from: 0.26, until: 0.5},
	{name: "middle", from: 0.51, until: 0.75},
	{name: "high", from: 0.76, until: 1.0},
}

var profiles = map[string]Profile{
	"powerplug": {
		Name: "powerplug",
		Properties: []Property{
			{Name: "power", DP: "1", Kind: Bool},
		},
	},
	"colorled": {
		Name: "colorled",
		Properties: []Property{
			{Name: "power", DP: "1", Kind: Bool},
			{Name: "color_mode", DP: "2", Kind: Enum, Options: []string{"white", "colour"}},
			{Name: "brightness", DP: "3", Kind: Level, implies: powerFromLevel},
			{Name: "color_temperature", DP: "4", Kind: Level},
			{Name: "color", DP: "5", Kind: Color},
		},
	},
	"filamentled": {
		Name: "filamentled",
		Properties: []Property{
			{Name: "power", DP: "1", Kind: Bool},
			{Name: "brightness", DP: "2", Kind: Level, implies: powerFromLevel},
			{Name: "color_temperature", DP: "3", Kind: Level},
		},
	},
	"siren": {
		Name: "siren",
		Properties: []Property{
			{Name: "volume", DP: "5", Kind: Band, bands: sirenVolume},
			{Name: "alarm", DP: "13", Kind: Bool},
		},
	},
	"curtain": {
		Name: "curtain",
		Properties: []Property{
			{Name: "power", DP: "1", Kind: Bool},
		},
	},
}

// DefaultProfile is used for devices configured without a profile.
const DefaultProfile = "powerplug"

// Lookup returns the profile called name. The empty name is DefaultProfile.
func Lookup(name string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the supported profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Encode converts a textual value to its wire form. Accepted inputs:
//
//	Bool   on, off, true, false, 1, 0
//	Level  a fraction (0.5) or a percentage (50%)
//	Enum   one of Options, or on/off for the second/first option
//	Color  rrggbb or #rrggbb
//	Band   same as Level
func (p Property) Encode(input string) (any, error) {
	input = strings.TrimSpace(strings.ToLower(input))

	switch p.Kind {
	case Bool:
		return parseBool(input)
	case Level:
		level, err := parseLevel(input)
		if err != nil {
			return nil, err
		}
		return toByte(level), nil
	case Enum:
		for _, opt := range p.Options {
			if input == opt {
				return opt, nil
			}
		}
		if b, err := parseBool(input); err == nil && len(p.Options) == 2 {
			if b {
				return p.Options[1], nil
			}
			return p.Options[0], nil
		}
		return nil, fmt.Errorf("invalid value %q for %s (expected one of %s)", input, p.Name, strings.Join(p.Options, ", "))
	case Color:
		hex := strings.TrimPrefix(input, "#")
		if len(hex) != 6 {
			return nil, fmt.Errorf("invalid color %q (expected rrggbb)", input)
		}
		if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
			return nil, fmt.Errorf("invalid color %q: %w", input, err)
		}
		return hex + "00f1ffff", nil
	case Band:
		level, err := parseLevel(input)
		if err != nil {
			return nil, err
		}
		for _, b := range p.bands {
			if level < b.until {
				return b.name, nil
			}
		}
		return p.bands[len(p.bands)-1].name, nil
	default:
		return nil, fmt.Errorf("property %s has unsupported kind %d", p.Name, p.Kind)
	}
}

// Decode converts a wire value to its property value: bool for Bool,
// float64 in [0, 1] for Level and Band, string for Enum and Color.
func (p Property) Decode(wire any) (any, error) {
	switch p.Kind {
	case Bool:
		b, ok := wire.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected boolean, got %T", p.Name, wire)
		}
		return b, nil
	case Level:
		n, ok := wire.(float64)
		if !ok {
			return nil, fmt.Errorf("%s: expected number, got %T", p.Name, wire)
		}
		return n / 255.0, nil
	case Enum:
		s, ok := wire.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", p.Name, wire)
		}
		return s, nil
	case Color:
		s, ok := wire.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", p.Name, wire)
		}
		if len(s) >= 6 {
			return s[:6], nil
		}
		return s, nil
	case Band:
		s, ok := wire.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", p.Name, wire)
		}
		for _, b := range p.bands {
			if b.name == s {
				// Low bands report their lower bound, high bands their upper.
				if b.until < 0.51 {
					return b.from, nil
				}
				return b.until, nil
			}
		}
		return nil, fmt.Errorf("%s: unknown band %q", p.Name, s)
	default:
		return nil, fmt.Errorf("property %s has unsupported kind %d", p.Name, p.Kind)
	}
}

func parseBool(input string) (bool, error) {
	switch input {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q (expected on or off)", input)
	}
}

func parseLevel(input string) (float64, error) {
	percent := strings.HasSuffix(input, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(input, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid level %q: %w", input, err)
	}
	if percent {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("level %q out of range [0, 1]", input)
	}
	return v, nil
}

func toByte(level float64) int {
	return int(math.Round(level*255)) & 0xFF
}
