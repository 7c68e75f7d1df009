package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/runner"
)

var rootCmd = &cobra.Command{
	Use:   "wasmdbg",
	Short: "Local debugger for WASM edge functions",
	Long: `wasmdbg - Run proxy-wasm and http-wasm edge functions locally.

Point it at a .wasm file and it classifies the execution model, drives the
module through a full request/response lifecycle with mediated side effects,
and shows everything the module did: per-hook logs, header mutations,
property accesses, outbound calls, and the final response.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			if l, err := zap.NewDevelopment(); err == nil {
				engine.SetLogger(l)
			}
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// parseHeaderFlags turns repeated "Key: Value" / "Key=Value" flags into an
// ordered header map.
func parseHeaderFlags(specs []string) (*runner.Headers, error) {
	h := runner.NewHeaders()
	for _, spec := range specs {
		var key, val string
		if i := strings.Index(spec, ":"); i > 0 {
			key, val = spec[:i], strings.TrimSpace(spec[i+1:])
		} else if i := strings.Index(spec, "="); i > 0 {
			key, val = spec[:i], spec[i+1:]
		} else {
			return nil, fmt.Errorf("invalid header %q (expected Key: Value)", spec)
		}
		h.Add(key, val)
	}
	return h, nil
}

// parsePropertiesFile reads KEY=VALUE lines; blank lines and # comments are
// skipped.
func parsePropertiesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	props := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid property line %q (expected KEY=VALUE)", line)
		}
		props[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return props, nil
}
