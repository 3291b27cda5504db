// Command tinkctl administers a Tink database: seeding the category
// reference data and inspecting the skill catalog.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinkapp/tink/cmd/tinkctl/commands"
	"github.com/tinkapp/tink/internal/config"
)

func main() {
	var dbPath string

	rootCmd := &cobra.Command{
		Use:   "tinkctl",
		Short: "Admin tool for the Tink marketplace",
		Long:  "CLI tool for seeding categories and inspecting the skill catalog of a Tink database",
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", config.DatabasePath(), "path to the SQLite database")

	rootCmd.AddCommand(commands.NewCategoriesCmd(&dbPath))
	rootCmd.AddCommand(commands.NewSkillsCmd(&dbPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
