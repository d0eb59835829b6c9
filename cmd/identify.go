package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/imageio"
	"github.com/andresmejia3/facewatch/internal/match"
	"github.com/andresmejia3/facewatch/internal/recognition"
)

var (
	identifyOpts Options
	identifyTop  int
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image_path>",
	Short: "Score the first face in an image against the reference gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := identifyOpts.resolve(cmd.Flags())
		if err != nil {
			return fail("Invalid configuration", err, nil)
		}
		return runIdentify(cmd.Context(), args[0], cfg, identifyTop, os.Stdout)
	},
}

func init() {
	fs := identifyCmd.Flags()
	addMatchFlags(fs, &identifyOpts)
	addGalleryFlags(fs, &identifyOpts)
	fs.IntVarP(&identifyTop, "top", "k", 5, "Number of nearest identities to show")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(ctx context.Context, imagePath string, cfg config.Config, top int, out io.Writer) error {
	if _, err := os.Stat(imagePath); err != nil {
		return fail("Input file does not exist", err, nil)
	}
	policy, err := match.ParsePolicy(cfg.Match.Policy)
	if err != nil {
		return fail("Invalid alert policy", err, nil)
	}

	frame, err := imageio.DecodeFile(imagePath)
	if err != nil {
		return fail("Failed to decode image", err, nil)
	}

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

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	emb, err := gallery.Embed(rec, frame, recognition.DefaultChip)
	if errors.Is(err, gallery.ErrNoFace) {
		fmt.Fprintln(out, "❌ No faces detected in the provided image.")
		return nil
	}
	if err != nil {
		return fail("Recognition failed", err, proc)
	}

	neighbors := g.Nearest(emb, top)
	if len(neighbors) == 0 {
		fmt.Fprintf(out, "❌ Embedding dimension %d does not match the gallery.\n", emb.Dim())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tDISTANCE\tWITHIN THRESHOLD\tALERT")
	fmt.Fprintln(w, "--------\t--------\t----------------\t-----")
	for _, n := range neighbors {
		fmt.Fprintf(w, "%s\t%.4f\t%s\t%s\n",
			n.Name, n.Distance,
			yesNo(n.Distance <= cfg.Match.Threshold),
			yesNo(policy.Fires(n.Distance, cfg.Match.Threshold)))
	}
	w.Flush()

	best := neighbors[0]
	if best.Distance <= cfg.Match.Threshold {
		fmt.Fprintf(out, "✅ Closest match: %s (distance %.4f)\n", best.Name, best.Distance)
	} else {
		fmt.Fprintf(out, "❌ No identity within %.2f (closest: %s at %.4f)\n", cfg.Match.Threshold, best.Name, best.Distance)
	}
	return nil
}
