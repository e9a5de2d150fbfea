package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/incidentq/internal/config"
	"github.com/kalambet/incidentq/internal/pending"
	"github.com/kalambet/incidentq/internal/submission"
	"github.com/kalambet/incidentq/internal/syncer"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an incident report",
	Long: `Submit an incident report. It is delivered immediately when the server is
online and nothing older is waiting; otherwise it is saved to the local queue.

Examples:
  incidentq submit --field "First Name=Ana" --field "Last Name=Silva" \
    --field "Staff Number=4821" --field "Email 2=ana@example.com" \
    --field "Report Type=Fatigue"
  incidentq submit --field ... --file ./roster.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("field")
		file, _ := cmd.Flags().GetString("file")
		fileField, _ := cmd.Flags().GetString("file-field")

		fields, err := parseFields(pairs)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var rec syncer.Receipt
		if file != "" {
			resp, err := client.postMultipart(ctx, "/submissions", fields, fileField, file)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
		} else {
			resp, err := client.post(ctx, "/submissions", map[string]any{"fields": fields})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &rec); err != nil {
				return err
			}
		}

		printReceipt(rec)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringArray("field", nil, `form field as "Label=Value" (repeatable, order is kept)`)
	submitCmd.Flags().String("file", "", "attachment to upload")
	submitCmd.Flags().String("file-field", "file", "form field name for the attachment")
}

// parseFields splits "Label=Value" pairs at the first '='.
func parseFields(pairs []string) ([]submission.Field, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one --field is required")
	}
	fields := make([]submission.Field, 0, len(pairs))
	for _, p := range pairs {
		label, value, ok := strings.Cut(p, "=")
		if !ok || label == "" {
			return nil, fmt.Errorf("invalid --field %q: want Label=Value", p)
		}
		fields = append(fields, submission.Field{Label: label, Value: submission.String(value)})
	}
	return fields, nil
}

func printReceipt(rec syncer.Receipt) {
	if rec.Disposition == syncer.Sent {
		printSuccess("Report delivered")
		return
	}
	printWarning("Report saved as #%d (%s)", rec.ID, rec.Reason)
	if rec.Sync != nil {
		printStep("%s", reportLine(*rec.Sync))
	}
}

// --- pending ---

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List reports waiting to be delivered",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/pending")
		if err != nil {
			return err
		}

		var v pending.View
		if err := decodeJSON(resp, &v); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		writePending(os.Stdout, v)
		if v.ShowSync {
			printStep("Online: run `incidentq sync` to deliver now")
		}
		return nil
	},
}

func init() {
	pendingCmd.Flags().Bool("json", false, "print the view as JSON")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver queued reports now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync", nil)
		if err != nil {
			return err
		}

		var rep syncer.Report
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}

		if rep.Halted() {
			return fmt.Errorf("%s", reportLine(rep))
		}
		printSuccess("%s", reportLine(rep))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			src := k.Source
			if src == config.SourceEnv {
				src = k.EnvVar
			}
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+src+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
