package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facewatch/internal/capture"
)

var queryCmd = &cobra.Command{
	Use:   "query [backend]",
	Short: "List capture devices and the modes they advertise",
	Long: "Enumerates the devices reachable through a capture backend (default: the platform's native one) " +
		"and prints each pixel format with its resolutions and framerates.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		b, err := capture.ParseBackend(name)
		if err != nil {
			return fail("Invalid capture backend", err, nil)
		}
		b = capture.Resolve(capture.Options{Backend: b})

		devices, err := capture.Query(cmd.Context(), b)
		if err != nil {
			return fail(fmt.Sprintf("Failed to query %s devices", b), err, nil)
		}
		if len(devices) == 0 {
			fmt.Printf("No %s devices found.\n", b)
			return nil
		}
		printDevices(os.Stdout, devices)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func printDevices(out io.Writer, devices []capture.DeviceInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tPATH\tFORMAT\tRESOLUTION\tFPS")
	fmt.Fprintln(w, "-----\t----\t----\t------\t----------\t---")

	for _, d := range devices {
		if len(d.Formats) == 0 {
			fmt.Fprintf(w, "%d\t%s\t%s\t-\t-\t-\n", d.Index, d.Name, d.Path)
			continue
		}
		for _, f := range d.Formats {
			if len(f.Modes) == 0 {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t-\t-\n", d.Index, d.Name, d.Path, f.FourCC)
				continue
			}
			for _, m := range f.Modes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dx%d\t%s\n", d.Index, d.Name, d.Path, f.FourCC, m.Width, m.Height, fmtRates(m.FPS))
			}
		}
	}
	w.Flush()
}

func fmtRates(rates []float64) string {
	if len(rates) == 0 {
		return "-"
	}
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = strconv.FormatFloat(r, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
