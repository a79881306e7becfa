// Package http implements an HTTP-based transport layer for RPC
// communication in the database system. It provides concrete implementations
// of the transport interfaces defined in the parent package, enabling
// communication between clients and servers over HTTP.
//
// The package focuses on:
//   - Client-side HTTP transport for sending RPC requests to servers
//   - Server-side HTTP transport for receiving and handling RPC requests
//   - Round-robin load balancing across multiple server endpoints
//   - Request routing based on the database id in the URL path
//
// Key Components:
//
//   - httpClientTransport: Implements the IRPCClientTransport interface,
//     managing connections to server endpoints, handling request routing,
//     and implementing retry mechanisms. It uses round-robin selection for
//     load balancing across multiple server endpoints.
//
//   - httpServerTransport: Implements the IRPCServerTransport interface,
//     setting up an HTTP server that routes incoming requests to the
//     registered handler based on the database id in the URL path. The
//     server also exposes collected metrics in Prometheus text format
//     under GET /metrics.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently. It
//	uses atomic operations for the round-robin counter to ensure thread
//	safety when selecting server endpoints.
package http
