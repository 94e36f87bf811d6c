// Package main provides meshnode, a headless SOS mesh node that carries
// frames over UDP broadcast or multicast.
//
// # Usage
//
// Run with default settings, announcing on the local broadcast domain:
//
//	go run ./cmd/meshnode -nickname rescue-7
//
// Pin the node's position so outgoing SOS messages and service
// announcements carry a location:
//
//	go run ./cmd/meshnode -lat 52.52 -lon 13.405 -address "Alexanderplatz 1"
//
// Keep the emergency registries across restarts and expose the local API:
//
//	go run ./cmd/meshnode -db registry.db -api 127.0.0.1:8080
//
// # Configuration Options
//
// Network:
//   - -listen: UDP listen address (default: :47474)
//   - -group: destination of every frame (default: 255.255.255.255:47474)
//   - -max-frame: largest frame in bytes; larger packets are fragmented
//   - -ttl: hop budget of ordinary traffic
//
// Features:
//   - -encrypt: sign frames and encrypt private traffic
//   - -identity-dir: keep the identity encrypted on disk; the passphrase is
//     read from SOSMESH_PASSPHRASE
//   - -auto-ack: acknowledge private messages automatically
//
// Storage and API:
//   - -db: SQLite file the emergency registries are restored from and saved to
//   - -persist-interval: how often the registries are saved
//   - -api: listen address of the local HTTP API
//
// Logging:
//   - -log-level: debug, info, warn or error
//   - -log-format: text or json
//
// The node announces itself every -announce-every and broadcasts a leave
// notice on SIGINT or SIGTERM.
package main
