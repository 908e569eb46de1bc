// create-listing signs in, uploads photos and saves a draft listing. Title
// and description are generated when not given.
//
//	create-listing -email me@example.com -product "Trail shoe" -price 40 front.jpg back.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/raine/resellkit/config"
	"github.com/raine/resellkit/internal/app"
	"github.com/raine/resellkit/internal/backend"
	"github.com/raine/resellkit/internal/brain"
	"github.com/raine/resellkit/internal/report"
	"github.com/raine/resellkit/internal/store"
)

func main() {
	email := flag.String("email", os.Getenv("RESELL_EMAIL"), "account email")
	product := flag.String("product", "", "product name used to generate the title and description")
	brand := flag.String("brand", "", "brand")
	title := flag.String("title", "", "listing title")
	description := flag.String("description", "", "listing description")
	price := flag.Float64("price", 0, "asking price")
	condition := flag.String("condition", string(backend.ConditionGood), "item condition")
	marketplace := flag.String("marketplace", "ebay", "target marketplace")
	publish := flag.Bool("publish", false, "publish after creating")
	flag.Parse()

	config.LoadEnvFile()

	password := os.Getenv("RESELL_PASSWORD")
	if *email == "" || password == "" {
		fatal("set -email (or RESELL_EMAIL) and RESELL_PASSWORD")
	}
	if *title == "" && *product == "" {
		fatal("either -title or -product is required")
	}
	cond, err := backend.ParseCondition(*condition)
	if err != nil {
		fatal(report.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(report.Error(err))
	}
	a, err := app.New(cfg)
	if err != nil {
		fatal(report.Error(err))
	}
	defer a.Close()

	ctx := context.Background()
	if _, err := a.Auth.SignIn(ctx, *email, password); err != nil {
		fatal(report.Error(err))
	}
	fmt.Printf("Signed in as %s\n", *email)

	files, err := readImages(flag.Args())
	if err != nil {
		fatal(report.Error(err))
	}

	gen := generationInput{product: *product, brand: *brand, condition: string(cond)}
	if *title == "" {
		fmt.Println("Generating title...")
		if *title, err = gen.title(ctx, a.Brain); err != nil {
			fatal(report.Error(err))
		}
	}
	if *description == "" && *product != "" {
		fmt.Println("Generating description...")
		if *description, err = gen.description(ctx, a.Brain); err != nil {
			fatal(report.Error(err))
		}
	}

	var urls []string
	if len(files) > 0 {
		fmt.Printf("Uploading %d images...\n", len(files))
		if urls, err = a.Listings.UploadImages(ctx, files); err != nil {
			fatal(report.Error(err))
		}
	}

	listing, err := a.Listings.CreateListing(ctx, store.ListingInput{
		Title:       *title,
		Description: *description,
		Condition:   cond,
		Price:       *price,
		Images:      urls,
		Marketplace: *marketplace,
	})
	if err != nil {
		fatal(report.Error(err))
	}
	if *publish {
		if listing, err = a.Listings.PublishListing(ctx, listing.ID); err != nil {
			fatal(report.Error(err))
		}
	}

	fmt.Println()
	fmt.Println(report.Listing(listing))
}

type generationInput struct {
	product   string
	brand     string
	condition string
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (g generationInput) title(ctx context.Context, c *brain.Client) (string, error) {
	res, err := c.GenerateTitle(ctx, brain.GenerateTitleRequest{
		ProductName: g.product,
		Brand:       optional(g.brand),
		Condition:   optional(g.condition),
	})
	if err != nil {
		return "", err
	}
	return res.Title, nil
}

func (g generationInput) description(ctx context.Context, c *brain.Client) (string, error) {
	res, err := c.GenerateDescription(ctx, brain.GenerateDescriptionRequest{
		ProductName: g.product,
		Brand:       optional(g.brand),
		Condition:   optional(g.condition),
	})
	if err != nil {
		return "", err
	}
	return res.Description, nil
}

func readImages(paths []string) ([]store.ImageFile, error) {
	files := make([]store.ImageFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		files = append(files, store.ImageFile{
			Name:        filepath.Base(p),
			Data:        data,
			ContentType: http.DetectContentType(data),
		})
	}
	return files, nil
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
