package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/tuyalink/internal/bridge"
)

// FormatEvent renders one engine event as a single monitor line:
//
//	15:04:05  bf01  state         power = true (was false)
func FormatEvent(ev bridge.Event) string {
	style := MutedStyle
	var detail string

	switch ev.Type {
	case bridge.TypeFound, bridge.TypeUpdated:
		style = lipgloss.NewStyle().Foreground(WarningColor)
		if ev.Device != nil {
			detail = fmt.Sprintf("%s (v%s)", ev.Device.IP, ev.Device.Version)
		}
	case bridge.TypeConnected:
		style = StateStyle("connected")
	case bridge.TypeError:
		style = StateStyle("error")
		detail = ev.Error
	case bridge.TypeState:
		style = lipgloss.NewStyle().Foreground(PrimaryColor)
		detail = fmt.Sprintf("%s = %s", ev.Property, FormatValue(ev.Value))
		if ev.Previous != nil {
			detail += MutedStyle.Render(fmt.Sprintf(" (was %s)", FormatValue(ev.Previous)))
		}
	}

	line := strings.Join([]string{
		MutedStyle.Render(ev.Time.Format("15:04:05")),
		TableCellStyle.Render(ev.DeviceID),
		style.Render(padRight(ev.Type, 12)),
	}, "  ")
	if detail != "" {
		line += "  " + detail
	}
	return line
}

// FormatValue renders a decoded data point value. Levels print as
// percentages.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case bool:
		if x {
			return "on"
		}
		return "off"
	case float64:
		if x >= 0 && x <= 1 {
			return fmt.Sprintf("%.0f%%", x*100)
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}
