package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "crashctl",
		Short:        "crash game operations: schema migrations, catalog status and fairness checks",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		MigrateCmd(),
		GameCmd(),
		VerifyCmd(),
	)

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
