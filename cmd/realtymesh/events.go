package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/realtymesh/internal/natsbus"
)

var (
	eventsURL    string
	eventsReplay bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Tail coordinator events from the gateway's NATS bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := natsbus.NewClientFromURL(eventsURL)
		if err != nil {
			return err
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		handle := func(msg *nats.Msg) {
			var ev natsbus.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return
			}
			fmt.Fprintln(out, formatEvent(ev))
		}

		subscribe := client.Subscribe
		if eventsReplay {
			subscribe = client.Replay
		}
		sub, err := subscribe(natsbus.TopicEventsAll, handle)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		defer sub.Unsubscribe()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsURL, "nats", nats.DefaultURL, "NATS server URL")
	eventsCmd.Flags().BoolVar(&eventsReplay, "replay", false, "Print retained events first (needs nats.event_retention on the gateway)")
}

func formatEvent(ev natsbus.Event) string {
	data, _ := json.Marshal(ev.Data)
	run := ev.RunID
	if run == "" {
		run = "-"
	}
	return fmt.Sprintf("%s %s %s %s", color.New(color.Faint).Sprint(ev.Timestamp), color.CyanString(ev.Type), run, data)
}
