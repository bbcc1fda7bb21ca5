// Package app wires application dependencies for the CLI and relay daemon.
//
// It loads the TOML configuration, opens the stores under the home
// directory and builds the relay client and high-level services, exposing
// them via the Wire struct for commands to use.
package app
