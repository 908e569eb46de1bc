// brain calls the analysis API from the command line.
//
//	brain health
//	brain lookup 0123456789012
//	brain price -condition good "nike air max 90"
//	brain condition -product "Jacket" https://img.example/jacket.jpg
//	brain process-image -remove-background photo.jpg out.png
//	brain summary
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/raine/resellkit/config"
	"github.com/raine/resellkit/internal/brain"
	"github.com/raine/resellkit/internal/report"
)

const usage = "usage: brain health|lookup|price|condition|process-image|summary [flags] [args]"

func main() {
	if len(os.Args) < 2 {
		fatal(usage)
	}

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		fatal(report.Error(err))
	}
	client := brain.NewClient(brain.ClientOpts{
		BaseURL: cfg.APIBaseURL,
		Auth:    cfg.APIToken,
		Timeout: cfg.APITimeout,
	})

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]
	var out string
	switch cmd {
	case "health":
		out, err = health(ctx, client)
	case "lookup":
		out, err = lookup(ctx, client, args)
	case "price":
		out, err = price(ctx, client, args)
	case "condition":
		out, err = condition(ctx, client, args)
	case "process-image":
		out, err = processImage(ctx, client, args)
	case "summary":
		var s *brain.AnalyticsSummary
		if s, err = client.GetAnalyticsSummary(ctx); err == nil {
			out = report.Summary(s)
		}
	default:
		fatal(usage)
	}
	if err != nil {
		fatal(report.Error(err))
	}
	fmt.Println(out)
}

func health(ctx context.Context, c *brain.Client) (string, error) {
	res, err := c.CheckHealth(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", c.BaseURL(), res.Status), nil
}

func lookup(ctx context.Context, c *brain.Client, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("lookup takes one barcode")
	}
	res, err := c.LookupProduct(ctx, brain.ProductLookupRequest{Barcode: args[0]})
	if err != nil {
		return "", err
	}
	return report.Product(res), nil
}

func price(ctx context.Context, c *brain.Client, args []string) (string, error) {
	fs := flag.NewFlagSet("price", flag.ExitOnError)
	category := fs.String("category", "", "category")
	cond := fs.String("condition", "", "condition")
	brand := fs.String("brand", "", "brand")
	fs.Parse(args)

	res, err := c.AnalyzePrice(ctx, brain.PriceAnalysisRequest{
		Keywords:  strings.Join(fs.Args(), " "),
		Category:  optional(*category),
		Condition: optional(*cond),
		Brand:     optional(*brand),
	})
	if err != nil {
		return "", err
	}
	return report.PriceAnalysis(res), nil
}

func condition(ctx context.Context, c *brain.Client, args []string) (string, error) {
	fs := flag.NewFlagSet("condition", flag.ExitOnError)
	product := fs.String("product", "", "product name")
	category := fs.String("category", "", "category")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return "", fmt.Errorf("condition takes one image url")
	}

	res, err := c.AnalyzeCondition(ctx, brain.AnalyzeConditionRequest{
		ImageURL:    fs.Arg(0),
		ProductName: optional(*product),
		Category:    optional(*category),
	})
	if err != nil {
		return "", err
	}
	return report.Condition(res), nil
}

func processImage(ctx context.Context, c *brain.Client, args []string) (string, error) {
	fs := flag.NewFlagSet("process-image", flag.ExitOnError)
	removeBackground := fs.Bool("remove-background", false, "remove the background")
	keepAspect := fs.Bool("keep-aspect", false, "do not pad the image to a square")
	fs.Parse(args)
	if fs.NArg() != 2 {
		return "", fmt.Errorf("process-image takes an input and an output path")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	req := brain.ProcessImageRequest{
		ImageData: "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data),
	}
	if *removeBackground {
		req.RemoveBackground = removeBackground
	}
	if *keepAspect {
		square := false
		req.MakeSquare = &square
	}

	res, err := c.ProcessProductImage(ctx, req)
	if err != nil {
		return "", err
	}
	out, err := decodeDataURL(res.ProcessedImage)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fs.Arg(1), out, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return fmt.Sprintf("Wrote %s (%d bytes)", fs.Arg(1), len(out)), nil
}

func decodeDataURL(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 {
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode processed image: %w", err)
	}
	return data, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
