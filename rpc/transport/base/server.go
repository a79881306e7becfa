package base

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aspendb/aspen/rpc/common"
	"github.com/aspendb/aspen/rpc/transport"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector is the protocol-specific part of a server transport
type IServerConnector interface {
	// Listen opens the listener for the configured endpoint
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies socket tuning to an accepted connection
	UpgradeConnection(conn net.Conn, conf common.TransportConf) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	listener   net.Listener
	bufferPool *sync.Pool
	bufferSize int
	stopping   atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	return &serverTransport{
		connector:  connector,
		bufferSize: bufferSize,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, bufferSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), config.Endpoint, t.workersPerConn())

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.stopping.Load() {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config.Transport); err != nil {
			Logger.Errorf("Failed to upgrade connection: %v", err)
			conn.Close()
			continue
		}

		// Handle the connection in a goroutine
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Close() error {
	t.stopping.Store(true)
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// workersPerConn returns the configured per-connection worker limit,
// minimum one
func (t *serverTransport) workersPerConn() int {
	return max(1, t.config.Transport.WorkersPerConn)
}

// handleConnection serves one connection: frames are read in order, handled
// by up to workersPerConn goroutines and answered out of order under their
// request id
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer conn.Close()

	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// Counting semaphore bounding in-flight requests on this connection
	workerSemaphore := make(chan struct{}, t.workersPerConn())

	var wg sync.WaitGroup

	// Responses from concurrent workers interleave on one socket
	var connMutex sync.Mutex

	handleResponse := func(dbID, requestID uint64, data []byte) {
		defer func() {
			<-workerSemaphore
			wg.Done()
		}()

		start := time.Now()
		resp := t.handler(dbID, data)
		Logger.Debugf("Processed request for database %d with requestID %d took %s", dbID, requestID, time.Since(start))

		connMutex.Lock()
		defer connMutex.Unlock()

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}

		// The response carries the request's id so the client can match it
		if err := writeFrame(conn, dbID, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
		}
	}

	handleRequest := func() error {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("failed to set read deadline: %v", err)
			}
		}

		buf := t.bufferPool.Get().([]byte)

		dbID, requestID, data, err := readFrame(conn, buf)
		if err != nil {
			t.bufferPool.Put(buf)
			return err
		}

		// Blocks once the worker limit is reached, which stops reading
		// further frames until a worker finishes
		workerSemaphore <- struct{}{}
		wg.Add(1)

		go func() {
			defer t.bufferPool.Put(buf)
			handleResponse(dbID, requestID, data)
		}()

		return nil
	}

	for {
		err := handleRequest()

		if err == io.EOF {
			Logger.Infof("Connection closed by client")
			break
		}

		if err != nil {
			// During shutdown the socket is closed under the reader
			if !t.stopping.Load() {
				Logger.Errorf("Error handling request: %v", err)
			}
			break
		}
	}

	// Drain in-flight workers before the deferred close
	wg.Wait()
}
