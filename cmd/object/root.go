package object

import (
	"github.com/spf13/cobra"

	"github.com/aspendb/aspen/cmd/util"
	"github.com/aspendb/aspen/rpc/client"
)

var (
	rpcClient *client.Client

	// ObjectCommands represents the object command group
	ObjectCommands = &cobra.Command{
		Use:               "object",
		Short:             "Perform collection operations on a served database",
		PersistentPreRunE: setupObjectClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add common RPC flags to the object command
	util.SetupRPCClientFlags(ObjectCommands)

	// Name of the served database to connect to
	ObjectCommands.PersistentFlags().String("database", "default", util.WrapString("Name of the served database to connect to"))

	// Add subcommands
	ObjectCommands.AddCommand(insertCmd)
	ObjectCommands.AddCommand(upsertCmd)
	ObjectCommands.AddCommand(getCmd)
	ObjectCommands.AddCommand(hasCmd)
	ObjectCommands.AddCommand(delCmd)
	ObjectCommands.AddCommand(queryCmd)
	ObjectCommands.AddCommand(changesCmd)
	ObjectCommands.AddCommand(infoCmd)
}

// setupObjectClient initializes the RPC client
func setupObjectClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	database := util.GetDatabase()

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	// Create the client
	rpcClient, err = client.NewClient(
		database,
		*config,
		t,
		s,
	)

	return err
}
