package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shiba",
	Short: "Shiba CLI tool can perform common tasks related to developing simulators with Shiba.",
	Long: `Shiba CLI tool can perform common tasks related to developing simulators with Shiba. ` +
		`It currently provides component scaffolding (component --create) and a viewer for ` +
		`recorded simulation databases (dashboard).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadDotEnv()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadDotEnv loads SHIBA_* settings from a .env file in the working
// directory. A missing file is not an error.
func loadDotEnv() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Cannot load .env file: %v\n", err)
	}
}
