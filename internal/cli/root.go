// Package cli implements the zhmc command line tool, a thin front end over
// the client library for inspecting and watching HMC-managed resources.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhmcclient/zhmc-go/pkg/zhmc"
)

var (
	// Global flags
	configFile string
	jsonOutput bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zhmc",
	Short: "zhmc is a command line client for mainframe hardware management consoles",
	Long: `zhmc is a command line client for the Web Services API of a mainframe
hardware management console (HMC). It lists CPCs and partitions and can
watch a console for property, status and inventory changes.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "zhmc.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(cpcsCmd)
	rootCmd.AddCommand(partitionsCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// newClient loads the configuration and builds a logged-off client. Callers
// own the returned client and must Close it.
func newClient() (*zhmc.Client, error) {
	cfg, err := zhmc.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	return cfg.NewClient()
}

func closeClient(ctx context.Context, client *zhmc.Client) {
	if err := client.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logoff failed: %v\n", err)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
