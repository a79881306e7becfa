// Package server implements the RPC server of the database system. It
// provides the adapter handling object store requests and the core server
// implementation that opens database files and routes requests to them.
//
// The package focuses on:
//   - Server-side RPC request handling for object store operations
//   - Adapter pattern to decouple application logic from RPC mechanisms
//   - Serving several database files from one process, addressed by the
//     hash of their configured name
//   - Change polling: per-collection logs of committed change sets that
//     remote clients poll with a transaction id floor
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server
//     adapters, with the Handle method that processes incoming requests
//     against an object.Store.
//
//   - NewObjectServerAdapter: Factory function creating the adapter for
//     object operations, translating RPC requests to collection calls.
//
//   - NewRPCServer: Factory function creating a configured server with the
//     specified transport and serializer mechanisms.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Databases: []common.ServerDatabase{
//	    {Name: "app", Path: "app.aspen", SchemaPath: "schema.json"},
//	  },
//	  Endpoint:      "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// A database can be served with a JSON schema declaration (SchemaPath), in
// which case opening runs the usual migration path, or without one, in
// which case the schema stored inside the file is used as-is.
//
// Thread Safety:
//
//	The server implementation is thread-safe and can handle concurrent
//	requests across multiple connections. Each request is processed
//	independently under the engine's transaction isolation. Serve should
//	be called only once.
package server
