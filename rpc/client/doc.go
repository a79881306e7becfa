// Package client implements the RPC client of the database system. It
// provides remote access to a served database: collection operations,
// queries, change polling and database info over the configured transport.
//
// The package focuses on:
//   - Transparent remote access to collections by name
//   - Integration with the transport and serialization layers
//   - Error handling and conversion between RPC and domain results
//
// Key Components:
//
//   - NewClient: Factory function that creates a client bound to one served
//     database, addressed by the hash of its name. All operations are
//     forwarded to the server via the configured transport layer.
//
// Usage Example:
//
//	// Configure the client
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:5000"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	// Create a serializer
//	serializer := serializer.NewBinarySerializer()
//
//	// Create the client
//	c, _ := client.NewClient("app", config, tcp.NewTCPClientTransport(), serializer)
//	defer c.Close()
//
//	// Use it
//	c.Upsert("users", object.Record{"id": int64(1), "name": "ada"})
//	rec, found, _ := c.Get("users", int64(1))
//
//	// Poll committed changes
//	sets, latest, _ := c.Changes("users", 0)
//
// Performance Considerations:
//
//   - For applications that frequently send large records, increasing
//     ConnectionsPerEndpoint can improve throughput by allowing parallel
//     requests.
//
//   - For small messages, a single connection per endpoint is often more
//     efficient due to reduced connection overhead.
//
//   - The choice of serializer significantly affects performance. The binary
//     serializer provides the best performance and smallest payload size.
//
// Thread Safety:
//
//	The client is thread-safe and can be used concurrently from multiple
//	goroutines without additional synchronization.
package client
