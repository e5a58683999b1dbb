package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	if f == "" {
		return formatTable
	}
	return f
}

// writeStructured encodes v as JSON or YAML. It reports false for the table
// format so the caller can render its own view.
func writeStructured(out io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		// Round-trip through JSON so YAML keys follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return true, eris.Wrap(err, "encode output")
		}
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return true, eris.Wrap(err, "encode output")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, eris.Wrap(err, "encode output")
		}
		return true, enc.Close()
	case formatTable:
		return false, nil
	default:
		return true, eris.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
