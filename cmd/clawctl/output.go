package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// outputFlag is the --output flag value. Unknown formats are rejected at
// parse time rather than when the first printer runs.
type outputFlag string

var _ pflag.Value = (*outputFlag)(nil)

func (f *outputFlag) String() string { return string(*f) }

func (f *outputFlag) Set(v string) error {
	switch v {
	case "table", "json", "yaml":
		*f = outputFlag(v)
		return nil
	}
	return fmt.Errorf("must be one of: table, json, yaml")
}

func (f *outputFlag) Type() string { return "format" }

func printOutput(v any) error {
	switch outputFmt {
	case "json":
		return printJSON(v)
	case "yaml":
		return printYAML(v)
	default:
		return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", outputFmt)
	}
}

// printDocument renders a structured document. Table output falls back to
// indented JSON since nested documents have no tabular shape.
func printDocument(v any) error {
	if outputFmt == "json" || outputFmt == "yaml" {
		return printOutput(v)
	}
	return printJSON(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	// Convert through JSON to get consistent keys (json tags).
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

	// Print headers in uppercase.
	upperHeaders := make([]string, len(headers))
	for i, h := range headers {
		upperHeaders[i] = strings.ToUpper(h)
	}
	fmt.Fprintln(w, strings.Join(upperHeaders, "\t"))

	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// truncate shortens a string to max length, appending "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// extractValue walks a dotted path through nested maps and renders the leaf
// as a table cell.
func extractValue(data map[string]any, path string) string {
	parts := strings.Split(path, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// preferredColumns are shown first when a collection's items carry them.
var preferredColumns = []string{"id", "name", "from", "subject", "status", "summary"}

// inferColumns picks up to five table columns from the keys of a collection
// item, preferring well-known identifying fields and skipping nested values.
func inferColumns(item map[string]any) []string {
	cols := make([]string, 0, 5)
	seen := make(map[string]bool, len(preferredColumns))
	for _, key := range preferredColumns {
		if _, ok := item[key]; ok && len(cols) < 5 {
			cols = append(cols, key)
			seen[key] = true
		}
	}

	rest := make([]string, 0, len(item))
	for key := range item {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if len(cols) >= 5 {
			break
		}
		if _, nested := item[key].(map[string]any); nested {
			continue
		}
		cols = append(cols, key)
	}
	return cols
}
