package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	runResource       string
	runResourceID     string
	runPhase          string
	runIdempotencyKey string
	runReason         string
	runArgPairs       []string
	runArgsJSON       string
)

var runCmd = &cobra.Command{
	Use:   "run <plugin> <action>",
	Short: "Run a plugin action through the mediation pipeline",
	Long: `Run a plugin action. Global actions post to {prefix}/{plugin}:{action}/{phase};
resource actions need --resource and --resource-id and post to
{prefix}/{plugin}/{resource}/{id}:{action}/{phase}.

A 202 response means the action is parked behind an approval ticket. Approve
it ("clawctl approvals approve <ticket>") and re-run with the same
idempotency key to release the action.`,
	Args: cobra.ExactArgs(2),
	RunE: runAction,
}

func init() {
	runCmd.Flags().StringVar(&runResource, "resource", "", "Resource the action targets")
	runCmd.Flags().StringVar(&runResourceID, "resource-id", "", "Resource item id the action targets")
	runCmd.Flags().StringVar(&runPhase, "phase", "execute", "Action phase: propose or execute")
	runCmd.Flags().StringVar(&runIdempotencyKey, "idempotency-key", "", "Idempotency key for mutating executes")
	runCmd.Flags().StringVar(&runReason, "reason", "", "Reason recorded with the request")
	runCmd.Flags().StringArrayVar(&runArgPairs, "arg", nil, "Action argument as key=value (repeatable)")
	runCmd.Flags().StringVar(&runArgsJSON, "args-json", "", "Action arguments as a raw JSON object (wins over --arg)")
}

func runAction(cmd *cobra.Command, args []string) error {
	pluginID, action := args[0], args[1]

	if (runResource == "") != (runResourceID == "") {
		return fmt.Errorf("--resource and --resource-id must be used together")
	}

	actionArgs := map[string]any{}
	for _, pair := range runArgPairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --arg %q, want key=value", pair)
		}
		actionArgs[key] = value
	}
	if runArgsJSON != "" {
		if err := json.Unmarshal([]byte(runArgsJSON), &actionArgs); err != nil {
			return fmt.Errorf("invalid --args-json: %w", err)
		}
	}

	path := apiPrefix + "/" + pluginID
	if runResource != "" {
		path += "/" + runResource + "/" + runResourceID
	}
	path += ":" + action + "/" + runPhase

	body := map[string]any{"args": actionArgs}
	if runIdempotencyKey != "" {
		body["idempotency_key"] = runIdempotencyKey
	}
	if runReason != "" {
		body["reason"] = runReason
	}

	client := newClient()
	var result map[string]any
	status, err := client.postJSON(path, body, &result)
	if err != nil {
		return fmt.Errorf("action failed: %w", err)
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(result)
	}

	if status == http.StatusAccepted {
		fmt.Printf("Approval required: ticket %v\n", result["approval_ticket_id"])
		if summary, ok := result["summary"].(string); ok && summary != "" {
			fmt.Printf("Summary: %s\n", summary)
		}
		fmt.Printf("Approve with: clawctl approvals approve %v\n", result["approval_ticket_id"])
		return nil
	}

	return printDocument(result)
}
