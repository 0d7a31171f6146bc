package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhmcclient/zhmc-go/pkg/zhmc"
)

var (
	// partitions command flags
	partitionsCPC    string
	partitionsStatus string
)

// cpcsCmd lists the CPCs managed by the HMC.
var cpcsCmd = &cobra.Command{
	Use:   "cpcs",
	Short: "List the CPCs managed by the HMC",
	Args:  cobra.NoArgs,
	RunE:  runCPCs,
}

// partitionsCmd lists the partitions of one CPC.
var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List the partitions of a CPC",
	Long: `List the partitions of a CPC, optionally filtered by status.

Examples:
  zhmc partitions --cpc CPC01
  zhmc partitions --cpc CPC01 --status active`,
	Args: cobra.NoArgs,
	RunE: runPartitions,
}

func init() {
	partitionsCmd.Flags().StringVar(&partitionsCPC, "cpc", "", "Name of the CPC (required)")
	partitionsCmd.Flags().StringVar(&partitionsStatus, "status", "", "Filter by partition status")
	partitionsCmd.MarkFlagRequired("cpc")
}

func runCPCs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, err := newClient()
	if err != nil {
		return err
	}
	defer closeClient(ctx, client)

	cpcs, err := client.CPCs().List(ctx, false, nil)
	if err != nil {
		return err
	}
	printResources(cpcs, "status")
	return nil
}

func runPartitions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, err := newClient()
	if err != nil {
		return err
	}
	defer closeClient(ctx, client)

	cpc, err := client.CPCs().FindByName(ctx, partitionsCPC)
	if err != nil {
		return err
	}

	filters := zhmc.Filters{}
	if partitionsStatus != "" {
		filters["status"] = partitionsStatus
	}
	partitions, err := zhmc.PartitionsOf(cpc).List(ctx, false, filters)
	if err != nil {
		return err
	}
	printResources(partitions, "status")
	return nil
}

func printResources(resources []*zhmc.Resource, extraProps ...string) {
	if jsonOutput {
		out := make([]map[string]any, 0, len(resources))
		for _, r := range resources {
			out = append(out, r.Properties().Map())
		}
		printJSON(out)
		return
	}
	for _, r := range resources {
		line := fmt.Sprintf("%-20s %s", r.Name(), r.URI())
		for _, p := range extraProps {
			if v, ok := r.Property(p); ok {
				line += fmt.Sprintf("  %s=%v", p, v)
			}
		}
		fmt.Println(line)
	}
}
