// Package logging provides structured logging for tuyalink.
//
// This package wraps the zap logger with convenience functions for the
// logging patterns used throughout the engine. Output is silent unless a
// level is configured, so library consumers and CLI commands stay quiet by
// default.
//
// # Log Levels
//
//   - Debug: hex dumps, individual frames, heartbeats
//   - Info: discovery of new devices, session connects and disconnects
//   - Warn: dropped frames, connection errors, reconnects
//   - Error: listener or reactor failures that need attention
//
// # Structured Logging
//
//	logging.Info("Device discovered",
//	    zap.String("device_id", rec.ID),
//	    zap.String("ip", rec.IP),
//	)
//
// # Specialized Logging
//
//	logging.LogFrame(deviceID, "tx", kind.String(), seq, frame)
//	logging.LogSessionEvent(deviceID, addr, "connected", nil)
//	logging.LogRawBytes("UDP datagram", data)
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// Initialize("") falls back to the TUYALINK_LOG_LEVEL environment variable.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and
// SetLogger are meant to be called once at startup.
package logging
