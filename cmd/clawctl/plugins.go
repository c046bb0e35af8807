package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List registered plugins",
	Long:  "List the plugins registered on the server with their version and runtime mode.",
	RunE:  runPluginsList,
}

var pluginsGetCmd = &cobra.Command{
	Use:   "get <plugin>",
	Short: "Show a plugin's manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		manifest, err := client.getRaw(apiPrefix + "/plugins/" + args[0])
		if err != nil {
			return fmt.Errorf("failed to get plugin: %w", err)
		}
		return printDocument(manifest)
	},
}

var pluginsCapabilitiesCmd = &cobra.Command{
	Use:   "capabilities <plugin>",
	Short: "List a plugin's action capabilities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		var caps []capabilityRow
		if err := client.getJSON(apiPrefix+"/plugins/"+args[0]+"/capabilities", &caps); err != nil {
			return fmt.Errorf("failed to list capabilities: %w", err)
		}

		if outputFmt == "json" || outputFmt == "yaml" {
			return printOutput(caps)
		}

		headers := []string{"Action", "Capability", "Resource", "Risk", "Route"}
		rows := make([][]string, 0, len(caps))
		for _, c := range caps {
			rows = append(rows, []string{c.Action, c.CapabilityID, c.ResourceType, c.RiskTier, c.RoutePattern})
		}
		printTable(headers, rows)
		return nil
	},
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	client := newClient()

	var plugins []pluginSummary
	if err := client.getJSON(apiPrefix+"/plugins", &plugins); err != nil {
		return fmt.Errorf("failed to list plugins: %w", err)
	}

	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(plugins)
	}

	headers := []string{"ID", "Name", "Version", "Runtime"}
	rows := make([][]string, 0, len(plugins))
	for _, p := range plugins {
		rows = append(rows, []string{p.ID, p.Name, p.Version, p.RuntimeMode})
	}
	printTable(headers, rows)
	return nil
}

func init() {
	pluginsCmd.AddCommand(pluginsGetCmd)
	pluginsCmd.AddCommand(pluginsCapabilitiesCmd)
}
