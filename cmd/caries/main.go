// Command caries talks to a running Dentalogic API.
//
//	caries [-url URL] health
//	caries [-url URL] predict [-annotated out.jpg] <image>
//	caries [-url URL] history [-limit N]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/api"
	"github.com/nvr-ai/dentalogic/client"
	"github.com/nvr-ai/dentalogic/images"
)

// EnvURL overrides the default API address.
const EnvURL = "DENTALOGIC_API_URL"

const defaultURL = "http://localhost:8000"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "caries: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("caries", flag.ContinueOnError)
	fs.SetOutput(out)
	url := fs.String("url", envOr(EnvURL, defaultURL), "Base URL of the API")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("missing command: health, predict or history")
	}

	c, err := client.New(*url)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "health":
		return health(ctx, c, out)
	case "predict":
		return predict(ctx, c, rest, out)
	case "history":
		return listHistory(ctx, c, rest, out)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func health(ctx context.Context, c *client.Client, out io.Writer) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	path := "-"
	if h.ModelPath != nil {
		path = *h.ModelPath
	}
	fmt.Fprintf(out, "status: %s\nmodel loaded: %t\nmodel path: %s\n", h.Status, h.ModelLoaded, path)
	if !h.ModelLoaded {
		return errors.New("model is not loaded")
	}
	return nil
}

func predict(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(out)
	annotated := fs.String("annotated", "", "Write the annotated image to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: predict [-annotated out.jpg] <image>")
	}

	resp, err := c.PredictFile(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	printPrediction(out, resp)

	if *annotated == "" {
		return nil
	}
	if resp.AnnotatedImage == "" {
		return errors.New("server returned no annotated image")
	}
	img, err := client.AnnotatedImage(resp)
	if err != nil {
		return err
	}
	format := images.FormatFromExtension(*annotated)
	if format != images.FormatPNG {
		format = images.FormatJPEG
	}
	data, err := images.Encode(img, format, 95)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*annotated, data, 0o644); err != nil {
		return errors.Wrap(err, "writing annotated image")
	}
	fmt.Fprintf(out, "annotated image: %s\n", *annotated)
	return nil
}

func printPrediction(out io.Writer, resp *api.PredictionResponse) {
	fmt.Fprintf(out, "class: %s (%.2f%%)\n", resp.Class, resp.Confidence)
	fmt.Fprintf(out, "risk: %s\n", resp.RiskLevel)
	fmt.Fprintf(out, "inference time: %.2f ms\n", resp.InferenceTime)
	fmt.Fprintf(out, "detections: %d\n", len(resp.Detections))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tPROBABILITY\tCOUNT")
	counts := make(map[string]int, len(resp.ClassCounts))
	for _, cc := range resp.ClassCounts {
		counts[cc.Class] = cc.Count
	}
	for _, p := range resp.AllProbabilities {
		fmt.Fprintf(tw, "%s\t%.2f%%\t%d\n", p.Class, p.Probability, counts[p.Class])
	}
	tw.Flush()
}

func listHistory(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(out)
	limit := fs.Int("limit", 20, "Number of entries to show, newest first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := c.History(ctx, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tFILE\tCLASS\tCONFIDENCE\tRISK")
	for _, e := range resp.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\t%s\n",
			e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.FileName, e.Class, e.Confidence, e.RiskLevel)
	}
	tw.Flush()
	fmt.Fprintf(out, "%d of %d entries\n", len(resp.Entries), resp.Total)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
