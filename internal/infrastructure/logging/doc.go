// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// When Config.File is set every entry is also written as JSON to a
// size-rotated file (lumberjack).
//
//	logger, err := logging.New(logging.Config{Level: "info", File: "/var/log/nexus.log"})
//	defer logger.Close()
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
