package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gitlab.com/dirk.krummacker/message-relay/internal/config"
)

// Usage example on the command line:
// > RELAY_OWNER_PHONE=+16135554444 RELAY_OWNER_EMAIL=me@test.com RELAY_DEV_MODE=true go run . serve
func main() {
	// A missing .env file is fine; the environment may be set otherwise.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relays calls, SMS, chat and email between the owner and their contacts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return config.ReadFile(v, path)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}

// version is set with -ldflags "-X main.version=...".
var version = "dev"
