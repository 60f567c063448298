package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the docmeter application
var rootCmd = &cobra.Command{
	Use:   "docmeter",
	Short: "Credit-metered documentation search over MCP",
	Long: `docmeter is an MCP (Model Context Protocol) server that exposes
documentation search behind a prepaid credit ledger.

Each priced tool invocation checks the caller's balance, queries the
search backend, sanitizes the answer, and debits the ledger exactly
once, even across retries.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "docmeter version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
