// Package main provides a minimal HTTP healthcheck binary for container
// probes. It performs a GET request and exits with code 0 on success (2xx)
// or code 1 on failure.
// Usage: healthcheck [url]
// Without an argument it probes the local gateway's readiness endpoint,
// honoring CLAWGATE_API_PORT.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	url := defaultURL()
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	os.Exit(1)
}

func defaultURL() string {
	port := os.Getenv("CLAWGATE_API_PORT")
	if port == "" {
		port = "8117"
	}
	return "http://localhost:" + port + "/readyz"
}
