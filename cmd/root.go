package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aspendb/aspen/cmd/admin"
	"github.com/aspendb/aspen/cmd/object"
	"github.com/aspendb/aspen/cmd/serve"
	"github.com/aspendb/aspen/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "aspen",
		Short: "embedded object database",
		Long: fmt.Sprintf(`aspen (v%s)

An embedded, transactional object database written in Go, with typed
collections, secondary indexes, change notifications and an optional
RPC server for remote access.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of aspen",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aspen v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(object.ObjectCommands)
	RootCmd.AddCommand(admin.AdminCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
