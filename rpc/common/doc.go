// Package common provides core data structures and utilities shared across
// the database RPC system. It defines fundamental types, configuration
// structures, and protocol elements used by other packages.
//
// The package focuses on:
//   - Message protocol definition for client/server communication
//   - Configuration structures for client and server components
//   - Wire encoding of records, primary keys and change sets
//   - Shared logging setup based on logrus
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication between
//     components, with a flexible structure that adapts to different
//     operation types. Includes factory methods for creating various request
//     and response messages.
//
//   - MessageType: Enumeration defining all supported operation types in the
//     system, categorized into collection operations, query and change
//     polling operations, and control messages.
//
//   - ServerConfig: Configuration for the RPC server, including the served
//     database files, network endpoint, timeouts and transport tuning.
//
//   - ClientConfig: Configuration for client components, controlling
//     connection parameters, timeouts, and retry behavior.
//
//   - EncodeRecord/EncodeChangeSets: gob-based wire encoding that preserves
//     the typed property values (int64, []byte, time.Time) a JSON round trip
//     would destroy. Primary keys travel as JSON and are coerced against the
//     collection schema on the server.
package common
