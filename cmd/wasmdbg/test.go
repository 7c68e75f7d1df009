package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgerun/wasmdbg/suite"
)

var testCmd = &cobra.Command{
	Use:   "test <file.wasm>",
	Short: "Run a smoke test suite against a wasm edge function",
	Long: `Run a built-in smoke suite against the module: one flow per case,
asserting that every hook reaches a terminal status and the final response
carries the expected status.

Real suites are Go code: import the suite package, define cases against the
flow result, and run them from your own tests. This command exists to try
the harness against a module without writing any Go.`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func init() {
	testCmd.Flags().String("url", "http://localhost/", "Request URL for the smoke flow")
	testCmd.Flags().Int("expect-status", 200, "Expected final response status")
	testCmd.Flags().Bool("enforce", false, "Enforce the production property access policy")

	rootCmd.AddCommand(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	url, _ := cmd.Flags().GetString("url")
	expectStatus, _ := cmd.Flags().GetInt("expect-status")
	enforce, _ := cmd.Flags().GetBool("enforce")

	s, err := suite.Define(suite.Config{
		Path: args[0],
		Cases: []suite.Case{
			{Name: "flow completes", Run: func(t *suite.T) error {
				res, err := t.Flow(suite.FlowOptions{URL: url, Enforce: enforce})
				if err != nil {
					return err
				}
				for _, hr := range res.Hooks {
					if hr.Err != nil {
						return fmt.Errorf("hook %s failed: %w", hr.Hook, hr.Err)
					}
				}
				return nil
			}},
			{Name: "final status", Run: func(t *suite.T) error {
				res, err := t.Flow(suite.FlowOptions{
					URL:            url,
					Enforce:        enforce,
					ResponseStatus: expectStatus,
				})
				if err != nil {
					return err
				}
				return suite.AssertFinalStatus(res, expectStatus)
			}},
		},
	})
	if err != nil {
		return err
	}

	summary, err := s.Run(context.Background())
	if err != nil {
		return err
	}

	for _, res := range summary.Results {
		switch res.Status {
		case suite.CasePassed:
			fmt.Fprintf(os.Stdout, "%s %s %s\n",
				okStyle.Render("PASS"), res.Name, dimStyle.Render(res.Duration.String()))
		case suite.CaseFailed:
			fmt.Fprintf(os.Stdout, "%s %s: %v\n", failStyle.Render("FAIL"), res.Name, res.Err)
		case suite.CaseErrored:
			fmt.Fprintf(os.Stdout, "%s %s: %v\n", failStyle.Render("ERROR"), res.Name, res.Err)
		}
	}
	fmt.Fprintf(os.Stdout, "\n%d passed, %d failed, %d errored in %s\n",
		summary.Passed, summary.Failed, summary.Errored, summary.Duration)

	if summary.Failed > 0 || summary.Errored > 0 {
		os.Exit(1)
	}
	return nil
}
