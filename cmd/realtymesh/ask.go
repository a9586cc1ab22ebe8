package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/realtymesh/internal/transport"
)

var (
	askGateway  string
	askSets     []string
	askJSON     bool
	askPassword string
	askTimeout  time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask [requirements...]",
	Short: "Send one request to a gateway and print the answers",
	Example: `  realtymesh ask --set location="Whitefield, Bangalore" --set budget=12000000 --set property_type=Apartment
  realtymesh ask --set property.location=Pune --set property.size_sqft=1200 quiet street`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseSets(askSets)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			fields["requirements"] = strings.Join(args, " ")
		}
		if askPassword == "" {
			askPassword = os.Getenv("REALTYMESH_WEB_PASSWORD")
		}
		return runAsk(cmd.Context(), cmd.OutOrStdout(), fields)
	},
}

func init() {
	askCmd.Flags().StringVar(&askGateway, "gateway", "http://localhost:8080", "Gateway base URL")
	askCmd.Flags().StringArrayVar(&askSets, "set", nil, "Request field as key=value (repeatable, dotted keys nest)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the raw JSON response")
	askCmd.Flags().StringVar(&askPassword, "password", "", "Gateway password (default $REALTYMESH_WEB_PASSWORD)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 3*time.Minute, "How long to wait for the gateway")
}

// askResponse mirrors the gateway's detailed aggregate response.
type askResponse struct {
	ID       string            `json:"id"`
	Roles    []string          `json:"roles"`
	Results  map[string]string `json:"results"`
	Outcomes map[string]struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Degraded bool   `json:"degraded"`
	} `json:"outcomes"`
	Failed bool `json:"failed"`
}

func runAsk(ctx context.Context, out io.Writer, fields map[string]any) error {
	headers := map[string]string{}
	if askPassword != "" {
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte("realtymesh:"+askPassword))
	}

	// A retried aggregation would run every worker again.
	client := transport.New()
	reply := client.Call(ctx, strings.TrimRight(askGateway, "/")+"/api/aggregate?detail=1", fields, transport.CallOptions{
		Timeout:    askTimeout,
		MaxRetries: 1,
		Headers:    headers,
	})
	if reply.Exhausted() {
		return fmt.Errorf("gateway %s: %w", askGateway, reply.Err)
	}

	data, err := json.Marshal(reply.Body)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	var resp askResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("unexpected gateway response: %w", err)
	}

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Results)
	}
	printResponse(out, resp)
	return nil
}

// printResponse prints one colored header and block per role, in role order.
func printResponse(out io.Writer, resp askResponse) {
	header := color.New(color.FgCyan, color.Bold)
	for i, role := range resp.Roles {
		if i > 0 {
			fmt.Fprintln(out)
		}
		o := resp.Outcomes[role]
		mark := color.GreenString("✓")
		switch {
		case o.Status == "error":
			mark = color.RedString("✗")
		case o.Degraded:
			mark = color.YellowString("~")
		}
		fmt.Fprintf(out, "%s %s\n", mark, header.Sprint(role))
		if o.Message != "" {
			fmt.Fprintf(out, "  %s\n", color.New(color.Faint).Sprint(o.Message))
		}
		fmt.Fprintln(out, strings.TrimRight(resp.Results[role], "\n"))
	}
	if resp.Failed {
		fmt.Fprintf(out, "\n%s aggregation failed (run %s)\n", color.RedString("✗"), resp.ID)
	}
}

// parseSets turns key=value pairs into request fields. Values that are valid
// JSON (numbers, booleans, objects) keep their type; anything else is a
// string. Dotted keys build nested objects.
func parseSets(sets []string) (map[string]any, error) {
	fields := make(map[string]any)
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", s)
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		parts := strings.Split(key, ".")
		m := fields
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = value
	}
	return fields, nil
}
