// Package commands defines the parley CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init         Create the local identity, or replace an expired one
//   - fingerprint  Print the identity fingerprint
//   - register     Publish your public key to a relay
//   - resolve      Fetch a peer's public key and print its fingerprint
//   - send         Encrypt and send a message
//   - recv         Fetch and decrypt queued messages
//   - listen       Print messages as the relay reports them
//   - history      Show a stored conversation
//   - rotate       Replace the conversation key with a peer
//   - forget       Delete the conversation key and history with a peer
//
// # Implementation
//
// The root command loads $home/config.toml and builds the dependency graph
// (stores, services, relay client) before any subcommand runs. Commands that
// talk to the relay as you also load the token saved by register.
package commands
