package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/engine"
	"github.com/edgerun/wasmdbg/runner"
	"github.com/edgerun/wasmdbg/suite"
)

var runCmd = &cobra.Command{
	Use:   "run <file.wasm>",
	Short: "Run one full request/response flow through a wasm edge function",
	Long: `Run a wasm edge function through its whole lifecycle with a synthetic
request and seeded upstream response, then report what it did.

  wasmdbg run filter.wasm --url https://example.com/cart -H 'X-Debug: 1'
  wasmdbg run handler.wasm --method POST --body '{"sku":42}' --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("url", "http://localhost/", "Request URL")
	runCmd.Flags().StringP("method", "X", "GET", "Request method")
	runCmd.Flags().StringArrayP("header", "H", nil, "Request header 'Key: Value' (repeatable)")
	runCmd.Flags().String("body", "", "Request body")
	runCmd.Flags().Int("response-status", 200, "Seeded upstream response status")
	runCmd.Flags().String("response-body", "", "Seeded upstream response body")
	runCmd.Flags().StringArray("response-header", nil, "Seeded response header 'Key: Value' (repeatable)")
	runCmd.Flags().String("properties", "", "Properties file with KEY=VALUE lines")
	runCmd.Flags().Bool("enforce", false, "Enforce the production property access policy")
	runCmd.Flags().Int("chunk-size", 0, "Deliver bodies to body hooks in chunks of this many bytes")
	runCmd.Flags().Duration("call-timeout", 30*time.Second, "Outbound call deadline")
	runCmd.Flags().String("model", "", "Override detection: proxy-wasm or http-wasm")
	runCmd.Flags().Bool("json", false, "Print the full flow result as JSON")
	runCmd.Flags().BoolP("interactive", "i", false, "Browse the result in a TUI (needs a terminal)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	wasm, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read wasm: %w", err)
	}

	headers, err := parseHeaderFlags(mustStringArray(cmd, "header"))
	if err != nil {
		return err
	}
	respHeaders, err := parseHeaderFlags(mustStringArray(cmd, "response-header"))
	if err != nil {
		return err
	}

	var props map[string]string
	if path, _ := cmd.Flags().GetString("properties"); path != "" {
		if props, err = parsePropertiesFile(path); err != nil {
			return fmt.Errorf("read properties: %w", err)
		}
	}

	eng, err := engine.New(ctx)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	model := detect.Detect(ctx, eng, wasm)
	if override, _ := cmd.Flags().GetString("model"); override != "" {
		m, ok := detect.ParseModel(override)
		if !ok {
			return fmt.Errorf("unknown model %q: use proxy-wasm or http-wasm", override)
		}
		model = m
	}

	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	callTimeout, _ := cmd.Flags().GetDuration("call-timeout")
	opts := []runner.Option{runner.WithCallTimeout(callTimeout)}
	if chunkSize > 0 {
		opts = append(opts, runner.WithBodyChunkSize(chunkSize))
	}

	r, err := runner.NewFactory(eng).Create(ctx, model, wasm, opts...)
	if err != nil {
		return err
	}
	defer r.Cleanup(ctx)

	url, _ := cmd.Flags().GetString("url")
	method, _ := cmd.Flags().GetString("method")
	body, _ := cmd.Flags().GetString("body")
	respStatus, _ := cmd.Flags().GetInt("response-status")
	respBody, _ := cmd.Flags().GetString("response-body")
	enforce, _ := cmd.Flags().GetBool("enforce")

	result, err := suite.RunFlow(ctx, r, suite.FlowOptions{
		URL:             url,
		Method:          method,
		Headers:         headers,
		Body:            []byte(body),
		ResponseHeaders: respHeaders,
		ResponseBody:    []byte(respBody),
		ResponseStatus:  respStatus,
		Properties:      props,
		Enforce:         enforce,
	})
	if err != nil {
		return err
	}

	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return printResultJSON(os.Stdout, model, result)
	}
	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "stdout is not a terminal, printing summary instead")
		} else {
			return browseResult(args[0], model, result)
		}
	}
	printResultSummary(os.Stdout, model, result)
	return nil
}

func mustStringArray(cmd *cobra.Command, name string) []string {
	v, _ := cmd.Flags().GetStringArray(name)
	return v
}
