// Package report renders API results and store records as plain text for
// the command line tools.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
	"github.com/raine/resellkit/internal/backend"
	"github.com/raine/resellkit/internal/brain"
)

func formatText(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func Product(p *brain.ProductDetails) string {
	image := "-"
	if img, ok := p.PrimaryImage(); ok {
		image = img.URL
	}
	return formatText(`
		Name:        %s
		Brand:       %s
		Category:    %s
		Barcode:     %s
		Image:       %s
		Description: %s`,
		p.Name, orDash(p.Brand), orDash(p.Category), orDash(p.Barcode), image, orDash(p.Description))
}

func PriceAnalysis(r *brain.PriceAnalysisResponse) string {
	var b strings.Builder
	b.WriteString(formatText(`
		Suggested price: %.2f
		Market range:    %.2f - %.2f
		Confidence:      %.0f%%
		Best time:       %s %s`,
		r.SuggestedPrice, r.PriceRange.Min, r.PriceRange.Max, r.ConfidenceScore*100,
		r.BestDayToList, r.BestTimeToList))
	if !r.InRange() {
		b.WriteString("\nNote: suggested price is outside the observed market range")
	}
	if len(r.ActiveCompetitors) > 0 {
		b.WriteString("\n\nActive competitors:")
		for _, c := range r.ActiveCompetitors {
			fmt.Fprintf(&b, "\n  %8.2f  %-10s %s", c.Price, c.Platform, c.Title)
		}
	}
	return b.String()
}

func Condition(r *brain.AnalyzeConditionResponse) string {
	var b strings.Builder
	b.WriteString(formatText(`
		Condition:  %s
		Confidence: %.0f%%
		Details:    %s`,
		r.Condition, r.Confidence*100, r.Details))
	if len(r.Defects) > 0 {
		fmt.Fprintf(&b, "\nDefects:    %s", strings.Join(r.Defects, ", "))
	}
	if len(r.Materials) > 0 {
		fmt.Fprintf(&b, "\nMaterials:  %s", strings.Join(r.Materials, ", "))
	}
	if r.QualityScore != nil {
		fmt.Fprintf(&b, "\nQuality:    %.1f", *r.QualityScore)
	}
	return b.String()
}

func Summary(s *brain.AnalyticsSummary) string {
	var b strings.Builder
	b.WriteString(formatText(`
		Revenue:       %.2f
		Sales:         %d
		Average price: %.2f
		Profit margin: %.1f%%
		Inventory:     %d items, %d listed, %d sold`,
		s.TotalRevenue, s.TotalSales, s.AveragePrice, s.ProfitMargin,
		s.InventoryMetrics.TotalItems, s.InventoryMetrics.ActiveListings, s.InventoryMetrics.SoldItems))
	if len(s.PlatformMetrics) > 0 {
		b.WriteString("\n\nBy platform:")
		for _, p := range s.PlatformMetrics {
			fmt.Fprintf(&b, "\n  %-10s %4d sales %10.2f", p.Platform, p.TotalSales, p.TotalRevenue)
		}
	}
	return b.String()
}

func Listing(l *backend.Listing) string {
	return formatText(`
		Listing %s (%s)
		Title:       %s
		Price:       %.2f
		Condition:   %s
		Marketplace: %s
		Images:      %d`,
		l.ID, l.Status, l.Title, l.Price, l.Condition, l.Marketplace, len(l.Images))
}

// Error renders err, listing the fields of a validation error one per line.
func Error(err error) string {
	var verr *brain.ValidationError
	if !errors.As(err, &verr) {
		return "Error: " + err.Error()
	}
	var b strings.Builder
	b.WriteString("Invalid request:")
	for _, fe := range verr.Detail {
		fmt.Fprintf(&b, "\n  %s: %s", fe.Path(), fe.Msg)
	}
	return b.String()
}
