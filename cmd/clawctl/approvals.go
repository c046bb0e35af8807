package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and decide approval tickets",
}

var approvalsGetCmd = &cobra.Command{
	Use:   "get <ticket>",
	Short: "Show an approval ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var ticket approvalTicket
		if err := client.getJSON(apiPrefix+"/approvals/"+args[0], &ticket); err != nil {
			return fmt.Errorf("failed to get approval: %w", err)
		}
		return printTicket(ticket)
	},
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <ticket>",
	Short: "Approve a pending approval ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideApproval("approve", args[0])
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny <ticket>",
	Short: "Deny a pending approval ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideApproval("deny", args[0])
	},
}

func decideApproval(verb, ticketID string) error {
	client := newClient()

	var ticket approvalTicket
	if _, err := client.postJSON(apiPrefix+"/approvals/"+ticketID+":"+verb, nil, &ticket); err != nil {
		return fmt.Errorf("failed to %s: %w", verb, err)
	}
	return printTicket(ticket)
}

func printTicket(ticket approvalTicket) error {
	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(ticket)
	}

	printTable([]string{"Field", "Value"}, [][]string{
		{"ID", ticket.ID},
		{"Status", ticket.Status},
		{"Summary", ticket.Summary},
		{"Capability", ticket.CapabilityID},
		{"Fingerprint", ticket.Fingerprint},
	})
	return nil
}

func init() {
	approvalsCmd.AddCommand(approvalsGetCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)
}
