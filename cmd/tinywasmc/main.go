// Command tinywasmc is a small reference collaborator for the
// HostInterface: it compresses, decompresses, and scans the exports
// of standard wasm binary files from the command line. It is not part
// of the codec itself — a QR encoder, renderer, or wasm runtime would
// bind to package tinywasm directly — but demonstrates the three
// operations the way cmd/gwebp demonstrates package webp.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/deepteams/tinywasm"
)

var outputPath string
var ceiling int

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("tinywasmc:"), err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tinywasmc",
		Short:         "Compress, decompress, and inspect small wasm modules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(compressCmd(), decompressCmd(), exportsCmd())
	return root
}

func compressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress <module.wasm>",
		Short: "Compress a standard wasm binary module",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompress,
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the compressed module here instead of stdout")
	cmd.Flags().IntVar(&ceiling, "ceiling", 0, "fail if the compressed result exceeds this many bytes (0 = no limit)")
	return cmd
}

func decompressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompress <module.tcwasm>",
		Short: "Decompress a tinywasm payload back to standard wasm binary",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecompress,
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the standard wasm bytes here instead of stdout")
	return cmd
}

func exportsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exports <module.wasm>",
		Short: "List the export names declared by a standard wasm binary module",
		Args:  cobra.ExactArgs(1),
		RunE:  runExports,
	}
}

func runCompress(cmd *cobra.Command, args []string) error {
	standard, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	compressed, err := tinywasm.CompressWasm(standard, ceiling)
	if err != nil {
		return err
	}
	if err := writeOutput(compressed); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("compressed %d bytes -> %d bytes", len(standard), len(compressed)))
	return nil
}

func runDecompress(cmd *cobra.Command, args []string) error {
	compressed, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	standard, err := tinywasm.DecompressWasm(compressed)
	if err != nil {
		return err
	}
	if err := writeOutput(standard); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), color.GreenString("decompressed %d bytes -> %d bytes", len(compressed), len(standard)))
	return nil
}

func runExports(cmd *cobra.Command, args []string) error {
	standard, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	names, err := tinywasm.ScanModuleExports(standard)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func writeOutput(data []byte) error {
	if outputPath == "" || outputPath == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}
