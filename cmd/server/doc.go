// Package main is the entry point for the Nexus Core backend.
//
// The server hosts a single self-modifying document. Spoken or typed
// instructions are turned into new versions by the generator, staged, and
// kept only if the sandboxed render reports healthy within the recovery
// window. Failed versions are rolled back automatically.
//
// The server provides:
//   - REST API for captures, history, runtime inspection and settings
//   - WebSocket stream for supervisor state and conduit messages
//   - Durable history and conduit log (badger or sqlite)
//   - Optional archive backups to an S3-compatible bucket
//
// Configuration:
//   - .env file (godotenv), then environment variables (envconfig)
//   - Optional YAML overlay named by NEXUS_CONFIG_FILE
//   - CLI flags override both
//
// Usage:
//
//	# Production mode
//	./server -port 8000
//
//	# Development mode (colored logs, debug level); ignored when ENV=production
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
