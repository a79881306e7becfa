package serve

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/aspendb/aspen/cmd/util"
	"github.com/aspendb/aspen/rpc/common"
	"github.com/aspendb/aspen/rpc/serializer"
	"github.com/aspendb/aspen/rpc/server"
	"github.com/aspendb/aspen/rpc/transport"
	"github.com/aspendb/aspen/rpc/transport/http"
	"github.com/aspendb/aspen/rpc/transport/tcp"
	"github.com/aspendb/aspen/rpc/transport/unix"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the aspen server",
		Long:    `Start the aspen server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is ASPEN_<flag> (e.g. ASPEN_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "databases"
	ServeCmd.PersistentFlags().String(key, "default=aspen.db", cmdUtil.WrapString("Comma-separated list of databases to serve. Format: NAME=PATH or NAME=PATH:SCHEMA where SCHEMA is a JSON schema declaration file. Without a schema the one stored inside the database file is used"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/aspen.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Per-request read/write timeout in seconds. Also bounds how long a write transaction waits for the writer lock"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Maximum number of requests processed concurrently per connection (ignored for http)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time for the transport (in seconds, only for tcp)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse databases
	databasesConfig := viper.GetString("databases")
	serveCmdConfig.Databases = []common.ServerDatabase{}
	for _, dbConfig := range strings.Split(databasesConfig, ",") {
		parts := strings.SplitN(dbConfig, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid database format: %s (expected NAME=PATH or NAME=PATH:SCHEMA)", dbConfig)
		}

		name := strings.TrimSpace(parts[0])
		if name == "" {
			return fmt.Errorf("invalid database format: %s (empty name)", dbConfig)
		}

		// Split off the optional schema file
		path := strings.TrimSpace(parts[1])
		schema := ""
		if idx := strings.LastIndex(path, ":"); idx >= 0 {
			schema = path[idx+1:]
			path = path[:idx]
		}
		if path == "" {
			return fmt.Errorf("invalid database format: %s (empty path)", dbConfig)
		}

		serveCmdConfig.Databases = append(serveCmdConfig.Databases, common.ServerDatabase{
			Name:       name,
			Path:       path,
			SchemaPath: schema,
		})
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.TransportConf{
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		WorkersPerConn:  viper.GetInt("workers-per-conn"),
	}

	return nil
}

// run starts the aspen server
func run(_ *cobra.Command, _ []string) error {

	// parse the serializer
	var s serializer.IRPCSerializer
	switch viper.GetString("serializer") {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}

	// Parse the transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport()
	case "unix":
		t = unix.NewUnixServerTransport()
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
	)

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("aspen")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
