// Package logging provides structured logging for the Casambi client.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the client. It provides both general logging
// functions and specialized functions for protocol-specific logging needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (hex dumps, sub-message parsing, packet counters)
//   - Info: Normal operations (connections, handshake steps, state changes)
//   - Warn: Non-fatal issues (decode anomalies, dropped packets)
//   - Error: Fatal issues (handshake failures, transport errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Unit state changed",
//	    zap.Uint8("unit", 5),
//	    zap.Bool("on", true),
//	    zap.Int("level", 80),
//	)
//
// # Configuration
//
// Logging is silent by default so that CLI output stays clean. Set the
// CASAMBI_LOG_LEVEL environment variable or call Initialize with an explicit
// level to enable output:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
