package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop the reference embedding cache",
	Long:  "Drops the cache tables so every reference image is embedded again on the next run.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReset(cmd.Context(), bufio.NewReader(os.Stdin), resetYes)
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context, in *bufio.Reader, yes bool) error {
	cache, err := openCache(ctx)
	if err != nil {
		return fail("Failed to open embedding cache", err, nil)
	}
	if cache == nil {
		fmt.Println("No database configured; nothing to reset.")
		return nil
	}

	if !yes && !confirm(in, os.Stdout, "⚠️  Are you sure you want to DROP the embedding cache?") {
		fmt.Println("Aborted.")
		return nil
	}

	fmt.Println("🗑️  Clearing embedding cache...")
	if err := cache.Reset(ctx); err != nil {
		return fail("Failed to reset database", err, nil)
	}
	fmt.Println("✨ Reset Complete.")
	return nil
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
