package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/aspendb/aspen/lib/db"
	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/rpc/common"
	"github.com/aspendb/aspen/rpc/serializer"
	"github.com/aspendb/aspen/rpc/transport"
)

var Logger = common.CreateLogger("rpc")

// serverDatabase is one database served by the RPC server: the engine, the
// object store bound to it and the adapter that handles its requests
type serverDatabase struct {
	Engine  *db.Engine
	Store   *object.Store
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		databases:  xsync.NewMapOf[uint64, serverDatabase](),
	}
}

type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	databases  *xsync.MapOf[uint64, serverDatabase]
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(dbID uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get the addressed database
		database, ok := s.databases.Load(dbID)

		// Case database does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     "database not found",
			}
		} else {
			// Decode the request
			err := s.serializer.Deserialize(req, &msg)

			if err != nil {
				respMsg = common.Message{
					MsgType: common.MsgTError,
					Err:     fmt.Sprintf("failed to deserialize request: %s", err),
				}
			} else {
				// Let the adapter handle the request
				respMsg = *database.Adapter.Handle(&msg, database.Store)
			}
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %s", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse("failed to serialize response"))
		}
		return val
	})
}

func (s *RPCServer) init() error {
	// Init logger
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}

	if len(s.config.Databases) == 0 {
		return fmt.Errorf("no databases configured")
	}

	// Open the configured databases
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	for _, dbConf := range s.config.Databases {
		engine, err := db.Open(dbConf.Path, &db.Options{
			WriteTimeout: timeout,
			Logger:       common.CreateLogger("db"),
		})
		if err != nil {
			return fmt.Errorf("failed to open database %s: %w", dbConf.Name, err)
		}

		store, err := s.openStore(engine, dbConf)
		if err != nil {
			engine.Close()
			return fmt.Errorf("failed to open store %s: %w", dbConf.Name, err)
		}

		s.databases.Store(dbConf.DatabaseID(), serverDatabase{
			Engine:  engine,
			Store:   store,
			Adapter: NewObjectServerAdapter(),
		})
		Logger.Infof("serving database %s (%s) as %d", dbConf.Name, dbConf.Path, dbConf.DatabaseID())
	}

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// openStore binds the object layer: a declared JSON schema when one is
// configured, otherwise the schema stored inside the file. A fresh file
// without either starts with an empty schema.
func (s *RPCServer) openStore(engine *db.Engine, dbConf common.ServerDatabase) (*object.Store, error) {
	if dbConf.SchemaPath != "" {
		raw, err := os.ReadFile(dbConf.SchemaPath)
		if err != nil {
			return nil, err
		}
		schema, err := object.SchemaFromJSON(raw)
		if err != nil {
			return nil, err
		}
		return object.Open(engine, schema, nil)
	}

	store, err := object.OpenExisting(engine)
	if errors.Is(err, object.ErrNoSchema) {
		return object.Open(engine, object.NewSchema(1), nil)
	}
	return store, err
}

// Serve starts the RPC server. It blocks until the process receives an
// interrupt or the transport fails; a clean shutdown closes the databases.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.transport.Listen(s.config)
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := s.transport.Close(); err != nil {
			Logger.Errorf("failed to close transport: %v", err)
		}
		s.closeDatabases()
		return nil
	})
	return g.Wait()
}

// closeDatabases shuts down poll subscriptions and engines
func (s *RPCServer) closeDatabases() {
	s.databases.Range(func(id uint64, database serverDatabase) bool {
		if adapter, ok := database.Adapter.(*objectServerAdapterImpl); ok {
			adapter.close()
		}
		if err := database.Engine.Close(); err != nil {
			Logger.Errorf("failed to close database %d: %v", id, err)
		}
		s.databases.Delete(id)
		return true
	})
}
