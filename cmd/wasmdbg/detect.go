package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgerun/wasmdbg/detect"
	"github.com/edgerun/wasmdbg/engine"
)

var detectCmd = &cobra.Command{
	Use:   "detect <file.wasm>",
	Short: "Classify the execution model of a wasm edge function",
	Long: `Classify a wasm binary as proxy-wasm (stream filter) or http-wasm
(request handler) based on its exports. Detection never fails: a module
with no recognizable exports runs as a stream filter.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		eng, err := engine.New(ctx)
		if err != nil {
			return err
		}
		defer eng.Close(ctx)

		model := detect.DetectFile(ctx, eng, args[0])
		fmt.Fprintln(os.Stdout, model)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
