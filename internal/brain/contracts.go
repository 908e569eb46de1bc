package brain

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ProductLookupRequest looks up a product by barcode.
type ProductLookupRequest struct {
	Barcode string `json:"barcode"`
}

// ProductImage is an image reference in a product lookup result.
type ProductImage struct {
	URL       string `json:"url"`
	IsPrimary bool   `json:"is_primary"`
}

// ProductDetails is the product lookup result.
type ProductDetails struct {
	Name        string         `json:"name"`
	Brand       *string        `json:"brand,omitempty"`
	Category    *string        `json:"category,omitempty"`
	Description *string        `json:"description,omitempty"`
	Images      []ProductImage `json:"images"`
	Barcode     *string        `json:"barcode,omitempty"`
}

// PrimaryImage returns the image flagged as primary, falling back to the
// first image. Returns false if there are no images.
func (p ProductDetails) PrimaryImage() (ProductImage, bool) {
	for _, img := range p.Images {
		if img.IsPrimary {
			return img, true
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0], true
	}
	return ProductImage{}, false
}

// ProcessImageRequest asks the backend to clean up a product photo.
// ImageData is a base64 data URL. Unset flags use the backend defaults:
// background is kept and the image is made square.
type ProcessImageRequest struct {
	ImageData        string `json:"image_data"`
	RemoveBackground *bool  `json:"remove_background,omitempty"`
	MakeSquare       *bool  `json:"make_square,omitempty"`
}

// ProcessImageResponse carries the processed image as a base64 data URL.
type ProcessImageResponse struct {
	ProcessedImage string `json:"processed_image"`
}

// GenerateTitleRequest is the input for title generation.
type GenerateTitleRequest struct {
	ProductName string   `json:"product_name"`
	Category    *string  `json:"category,omitempty"`
	Brand       *string  `json:"brand,omitempty"`
	Condition   *string  `json:"condition,omitempty"`
	KeyFeatures []string `json:"key_features,omitempty"`
}

// GenerateTitleResponse is the generated listing title.
type GenerateTitleResponse struct {
	Title string `json:"title"`
}

// GenerateDescriptionRequest is the input for description generation.
type GenerateDescriptionRequest struct {
	ProductName string   `json:"product_name"`
	Category    *string  `json:"category,omitempty"`
	Brand       *string  `json:"brand,omitempty"`
	Condition   *string  `json:"condition,omitempty"`
	KeyFeatures []string `json:"key_features,omitempty"`
	Style       *string  `json:"style,omitempty"`
}

// GenerateDescriptionResponse is the generated listing description.
type GenerateDescriptionResponse struct {
	Description string `json:"description"`
}

// AnalyzeConditionRequest asks the backend to grade an item from a photo.
type AnalyzeConditionRequest struct {
	ImageURL    string  `json:"image_url"`
	ProductName *string `json:"product_name,omitempty"`
	Category    *string `json:"category,omitempty"`
}

// Dimensions is the measured size of an item, when the backend reports it.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// AnalyzeConditionResponse is the condition analysis result.
//
// Condition, Details and Confidence are always present. The remaining fields
// are extensions some backend versions return; they stay nil when absent.
type AnalyzeConditionResponse struct {
	Condition  string  `json:"condition"`
	Details    string  `json:"details"`
	Confidence float64 `json:"confidence"`

	Defects      []string    `json:"defects,omitempty"`
	Materials    []string    `json:"materials,omitempty"`
	Style        *string     `json:"style,omitempty"`
	Color        *string     `json:"color,omitempty"`
	Pattern      *string     `json:"pattern,omitempty"`
	Dimensions   *Dimensions `json:"dimensions,omitempty"`
	Weight       *float64    `json:"weight,omitempty"`
	QualityScore *float64    `json:"quality_score,omitempty"`
}

// PriceAnalysisRequest is the input for market price analysis.
type PriceAnalysisRequest struct {
	Keywords  string  `json:"keywords"`
	Category  *string `json:"category,omitempty"`
	Condition *string `json:"condition,omitempty"`
	Brand     *string `json:"brand,omitempty"`
}

// PriceRange is the observed market price span.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MarketTrend is an aggregated price/volume data point for a period.
type MarketTrend struct {
	Period       string  `json:"period"`
	AveragePrice float64 `json:"average_price"`
	Volume       int     `json:"volume"`
	PriceChange  float64 `json:"price_change"`
}

// PricePoint is a single historical price observation.
type PricePoint struct {
	Price     float64 `json:"price"`
	Date      string  `json:"date"`
	Platform  string  `json:"platform"`
	Condition *string `json:"condition,omitempty"`
	Sold      bool    `json:"sold"`
}

// CompetitorListing is an active listing for a similar item.
type CompetitorListing struct {
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Platform   string  `json:"platform"`
	Condition  *string `json:"condition,omitempty"`
	URL        string  `json:"url"`
	DateListed string  `json:"date_listed"`
}

// PriceAnalysisResponse is the market price analysis result.
type PriceAnalysisResponse struct {
	SuggestedPrice    float64             `json:"suggested_price"`
	PriceRange        PriceRange          `json:"price_range"`
	ConfidenceScore   float64             `json:"confidence_score"`
	MarketTrends      []MarketTrend       `json:"market_trends"`
	PriceHistory      []PricePoint        `json:"price_history"`
	ActiveCompetitors []CompetitorListing `json:"active_competitors"`
	BestDayToList     string              `json:"best_day_to_list"`
	BestTimeToList    string              `json:"best_time_to_list"`
}

// InRange reports whether the suggested price lies within the observed range.
// Informational only: a suggestion outside the range is still a valid result.
func (r PriceAnalysisResponse) InRange() bool {
	return r.SuggestedPrice >= r.PriceRange.Min && r.SuggestedPrice <= r.PriceRange.Max
}

// SalesByPlatform holds per-marketplace sales metrics.
type SalesByPlatform struct {
	Platform     string  `json:"platform"`
	TotalSales   int     `json:"total_sales"`
	TotalRevenue float64 `json:"total_revenue"`
	AveragePrice float64 `json:"average_price"`
	GrowthRate   float64 `json:"growth_rate"`
}

// InventoryMetrics summarizes stock movement.
type InventoryMetrics struct {
	TotalItems        int     `json:"total_items"`
	ActiveListings    int     `json:"active_listings"`
	SoldItems         int     `json:"sold_items"`
	AverageDaysToSell float64 `json:"average_days_to_sell"`
	TurnoverRate      float64 `json:"turnover_rate"`
}

// TimeSeriesPoint is a dated value in a trend series.
type TimeSeriesPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// PlatformBreakdown is a labelled share of a total.
type PlatformBreakdown struct {
	Platform   string  `json:"platform"`
	Value      float64 `json:"value"`
	Percentage float64 `json:"percentage"`
}

// AnalyticsSummary is the aggregate business dashboard.
type AnalyticsSummary struct {
	TotalRevenue             float64             `json:"total_revenue"`
	TotalSales               int                 `json:"total_sales"`
	AveragePrice             float64             `json:"average_price"`
	ProfitMargin             float64             `json:"profit_margin"`
	PlatformMetrics          []SalesByPlatform   `json:"platform_metrics"`
	InventoryMetrics         InventoryMetrics    `json:"inventory_metrics"`
	RevenueTrend             []TimeSeriesPoint   `json:"revenue_trend"`
	SalesTrend               []TimeSeriesPoint   `json:"sales_trend"`
	PlatformRevenueBreakdown []PlatformBreakdown `json:"platform_revenue_breakdown"`
	TopCategories            []PlatformBreakdown `json:"top_categories"`
}
