package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiPrefix string
	authToken string
	identity  string
	outputFmt outputFlag = "table"
)

var rootCmd = &cobra.Command{
	Use:   "clawctl",
	Short: "CLI for the clawgate server",
	Long: `clawctl drives a clawgate server from the command line.

Discovery and resource reads are plain GETs. Actions go through the same
propose/execute mediation as any other agent: a transactional action returns
an approval ticket, which can be approved or denied from here as well.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOrDefault("CLAWGATE_SERVER", "http://localhost:8117"), "Clawgate server URL")
	rootCmd.PersistentFlags().StringVar(&apiPrefix, "prefix", "/v1", "API path prefix the server mounts routes under")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("CLAWGATE_TOKEN"), "Bearer token (default: CLAWGATE_TOKEN env)")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", os.Getenv("CLAWGATE_IDENTITY"), "Caller identity header value (default: CLAWGATE_IDENTITY env)")
	rootCmd.PersistentFlags().VarP(&outputFmt, "output", "o", "Output format: table, json, yaml")

	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(healthCmd)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
