// Package ui renders styled terminal output for the tuyalink CLI.
//
// Components are "render once and print": a Header describing the command,
// a Table for device lists, one-line event formatting for the monitor and
// a Result box when a command finishes. Styling comes from Lipgloss and
// degrades to plain text when stdout is not a terminal.
//
// Logging is controlled separately through TUYALINK_LOG_LEVEL. When it is
// unset zap stays silent so the styled output is not interleaved with log
// lines.
package ui
