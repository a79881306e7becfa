// Package cmd implements the command-line interface for the aspen embedded
// object database. It provides a hierarchical command structure with
// operations for running the RPC server, interacting with it as a client and
// maintaining database files offline.
//
// The package is organized into several subpackages:
//
//   - object: Commands for collection operations (get, upsert, query, etc.)
//   - serve: Commands for starting and configuring the aspen server
//   - admin: Offline maintenance of database files (info, compact, backup)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See aspen -help for a list of all commands.
package cmd
