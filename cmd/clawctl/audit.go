package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	auditAgent     string
	auditPlugin    string
	auditAction    string
	auditOutcome   string
	auditPageSize  int
	auditPageToken string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded action events, newest first",
	RunE:  runAuditList,
}

var auditGetCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show one audit event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		event, err := client.getRaw(apiPrefix + "/system/audit/" + args[0])
		if err != nil {
			return fmt.Errorf("failed to get audit event: %w", err)
		}
		return printDocument(event)
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditAgent, "agent", "", "Filter by agent id")
	auditListCmd.Flags().StringVar(&auditPlugin, "plugin", "", "Filter by plugin id")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "Filter by action name")
	auditListCmd.Flags().StringVar(&auditOutcome, "outcome", "", "Filter by outcome (success, pending_approval, denied, failure)")
	auditListCmd.Flags().IntVar(&auditPageSize, "page-size", 0, "Page size (default: server default)")
	auditListCmd.Flags().StringVar(&auditPageToken, "page-token", "", "Opaque token from a previous page")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditGetCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if auditAgent != "" {
		query.Set("agent", auditAgent)
	}
	if auditPlugin != "" {
		query.Set("plugin", auditPlugin)
	}
	if auditAction != "" {
		query.Set("action", auditAction)
	}
	if auditOutcome != "" {
		query.Set("outcome", auditOutcome)
	}
	if cmd.Flags().Changed("page-size") {
		query.Set("page_size", strconv.Itoa(auditPageSize))
	}
	if auditPageToken != "" {
		query.Set("page_token", auditPageToken)
	}

	path := apiPrefix + "/system/audit"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	client := newClient()
	var resp auditListResponse
	if err := client.getJSON(path, &resp); err != nil {
		return fmt.Errorf("failed to list audit events: %w", err)
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(resp)
	}

	headers := []string{"Time", "Agent", "Plugin", "Action", "Phase", "Outcome", "Status"}
	rows := make([][]string, 0, len(resp.Events))
	for _, event := range resp.Events {
		rows = append(rows, []string{
			extractValue(event, "created_at"),
			extractValue(event, "agent_id"),
			extractValue(event, "plugin"),
			extractValue(event, "action"),
			extractValue(event, "phase"),
			extractValue(event, "outcome"),
			extractValue(event, "status_code"),
		})
	}
	printTable(headers, rows)
	fmt.Printf("Total: %d\n", resp.TotalSize)

	if token, ok := resp.NextPageToken.(string); ok && token != "" {
		fmt.Printf("Next page token: %s\n", token)
	}
	return nil
}
