package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchTopic string

// watchCmd streams resource change events until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch CPCs for property, status and inventory changes",
	Long: `Watch keeps a live view of the HMC's CPCs and streams every applied
change notification to stdout. Events are published under
"<class>.<object-id>.<notification-type>" topics; the --topic flag
narrows the stream with "*" segment wildcards.

Examples:
  zhmc watch
  zhmc watch --topic "cpc.*.status-change"`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchTopic, "topic", "*.*.*", "Event topic pattern to stream")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client, err := newClient()
	if err != nil {
		return err
	}
	defer closeClient(ctx, client)

	if err := client.CPCs().EnableAutoUpdate(ctx); err != nil {
		return err
	}
	events, cancel := client.Events().Subscribe(watchTopic, 64)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	fmt.Fprintf(os.Stderr, "watching %s (Ctrl-C to stop)\n", watchTopic)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if jsonOutput {
				printJSON(map[string]any{
					"topic":      ev.Topic,
					"class":      ev.Class,
					"uri":        ev.URI,
					"kind":       ev.Kind,
					"properties": ev.Properties,
				})
			} else {
				fmt.Printf("%s  %s %s\n", ev.Received.Format("15:04:05.000"), ev.Topic, ev.URI)
			}
		case <-sig:
			return nil
		}
	}
}
