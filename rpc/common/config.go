package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aspendb/aspen/lib/db/util"
)

// --------------------------------------------------------------------------
// Transport configuration struct (shared by server and client)
// --------------------------------------------------------------------------

// TransportConf holds the socket tuning knobs of the framed transports.
// The http transport ignores everything but the buffer sizes.
type TransportConf struct {
	// Socket buffer sizes in bytes, 0 keeps the kernel default
	WriteBufferSize int
	ReadBufferSize  int

	// TCP specific settings, ignored by the unix transport
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int

	// WorkersPerConn limits concurrent request processing per connection
	// (server side)
	WorkersPerConn int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerDatabase names one database file served by the RPC server. Requests
// address it by the hash of its name (see DatabaseID).
type ServerDatabase struct {
	// Name is the routing name of the database
	Name string
	// Path is the database file
	Path string
	// SchemaPath optionally points to a JSON schema declaration. Without
	// one the server uses the schema stored inside the file.
	SchemaPath string
}

// DatabaseID returns the routing id of the database, used as the frame's
// database field on the wire
func (d *ServerDatabase) DatabaseID() uint64 {
	return uint64(util.HashString(d.Name, 0))
}

// ServerConfig holds all configuration parameters for the RPC server.
type ServerConfig struct {
	// Databases served by this process
	Databases []ServerDatabase

	// Endpoint the transport listens on (host:port or socket path)
	Endpoint string

	// TimeoutSecond is the per-request read/write deadline
	TimeoutSecond int64

	// Logging configuration
	LogLevel string

	// Transport tuning
	Transport TransportConf
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Databases
	addSection("Databases")
	for _, d := range c.Databases {
		desc := d.Path
		if d.SchemaPath != "" {
			desc += " (schema " + d.SchemaPath + ")"
		}
		addField(d.Name, desc)
	}

	// Transport tuning
	addSection("Transport")
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	addField("TCP NoDelay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
	Transport              TransportConf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.ConnectionsPerEndpoint)))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
