// Package main implements nexusctl, an operator CLI for a running Nexus Core
// backend.
//
// Usage:
//
//	nexusctl status
//	nexusctl evolve "make the header sticky"
//	nexusctl versions
//	nexusctl rollback
//	nexusctl export -o history.json.gz --gzip
//	nexusctl import history.json.gz
//	nexusctl messages --tab tab_ops
//	nexusctl report --markdown
//	nexusctl backup | backups | restore <name>
//
// The server address comes from --server or NEXUS_SERVER.
package main
