package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/gallery"
)

var (
	galleryOpts   Options
	galleryCached bool
	galleryPrune  bool
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Build the reference gallery and list its identities",
	Long: "Embeds every reference image (reusing cached embeddings when a database is configured) " +
		"and prints one row per identity. With --cached, lists the cache contents instead.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := galleryOpts.resolve(cmd.Flags())
		if err != nil {
			return fail("Invalid configuration", err, nil)
		}
		if galleryCached {
			return runCacheList(cmd.Context(), os.Stdout)
		}
		return runGallery(cmd.Context(), cfg, os.Stdout, galleryPrune)
	},
}

func init() {
	addGalleryFlags(galleryCmd.Flags(), &galleryOpts)
	galleryCmd.Flags().BoolVar(&galleryCached, "cached", false, "List cached embeddings instead of building the gallery")
	galleryCmd.Flags().BoolVar(&galleryPrune, "prune", false, "Delete cached embeddings for files no longer in the reference directory")
	rootCmd.AddCommand(galleryCmd)
}

func runGallery(ctx context.Context, cfg config.Config, out io.Writer, prune bool) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting recognizer...")
	rec, proc, err := newRecognizer(ctx, cfg.Recognizer)
	if err != nil {
		return fail("Failed to start recognizer", err, proc)
	}
	defer rec.Close()

	g, err := buildGallery(ctx, rec, cfg.Recognizer, cfg.Gallery.Dir)
	if err != nil {
		return fail("Failed to build reference gallery", err, proc)
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tDIM\tCACHED\tDIGEST")
	fmt.Fprintln(w, "----\t---\t------\t------")
	for _, e := range g.Entries() {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Name, e.Embedding.Dim(), yesNo(e.Cached), shortDigest(e.Digest))
	}
	w.Flush()

	if prune {
		return pruneCache(ctx, g, recognizerFingerprint(cfg.Recognizer))
	}
	return nil
}

func pruneCache(ctx context.Context, g *gallery.Gallery, fingerprint string) error {
	cache, err := openCache(ctx)
	if err != nil {
		return fail("Failed to open embedding cache", err, nil)
	}
	if cache == nil {
		fmt.Fprintln(os.Stderr, "⚠️  No database configured; nothing to prune.")
		return nil
	}
	entries := g.Entries()
	keep := make([]string, 0, len(entries))
	for _, e := range entries {
		keep = append(keep, e.Digest)
	}
	n, err := cache.Prune(ctx, fingerprint, keep)
	if err != nil {
		return fail("Failed to prune embedding cache", err, nil)
	}
	fmt.Fprintf(os.Stderr, "🗑️  Pruned %d stale cache rows\n", n)
	return nil
}

func runCacheList(ctx context.Context, out io.Writer) error {
	cache, err := openCache(ctx)
	if err != nil {
		return fail("Failed to open embedding cache", err, nil)
	}
	if cache == nil {
		fmt.Fprintln(out, "No database configured; the embedding cache is disabled.")
		return nil
	}

	rows, err := cache.List(ctx)
	if err != nil {
		return fail("Failed to list cached embeddings", err, nil)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No cached embeddings found in database.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "NAME\tDIM\tCHIP\tDIGEST\tRECOGNIZER\tCACHED")
	fmt.Fprintln(w, "----\t---\t----\t------\t----------\t------")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n", r.Name, r.Dim, r.Chip, shortDigest(r.Digest), r.Recognizer, r.CachedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func shortDigest(d string) string {
	if d == "" {
		return "-"
	}
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
