// Package commands defines the cipherchat CLI.
//
// Commands
//
//   - serve     Run the chat server (TCP/TLS listener plus HTTP/WebSocket)
//   - register  Create credentials in the configured datastore
//   - history   Print recent messages of a room
//   - gencert   Generate a self-signed TLS certificate
//   - connect   Line-based terminal client
//
// Configuration is resolved once in the root command from defaults, the
// optional config file, the environment and flags, and shared by every
// subcommand.
package commands
