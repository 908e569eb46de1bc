// Package brain is a typed client for the AI and analytics backend: product
// lookup, image processing, listing text generation, condition and price
// analysis, and the analytics summary.
package brain

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	defaultTimeout = 60 * time.Second
)

// Route paths. These are fixed by the backend and carry no version segment.
const (
	RouteHealth              = "/_healthz"
	RouteLookup              = "/routes/lookup"
	RouteProcessImage        = "/routes/process-image"
	RouteSummary             = "/routes/summary"
	RouteGenerateTitle       = "/routes/generate-title"
	RouteGenerateDescription = "/routes/generate-description"
	RouteAnalyzeCondition    = "/routes/analyze-condition"
	RouteAnalyzePrice        = "/routes/analyze-price"
)

// Recorder receives one observation per backend call.
type Recorder interface {
	ObserveAPICall(route string, status int, duration time.Duration)
}

type ClientOpts struct {
	BaseURL string
	// Auth is sent as a bearer token when set.
	Auth    string
	Timeout time.Duration
	Metrics Recorder
}

// Client issues requests to the backend. It keeps no state between calls and
// never retries.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	metrics    Recorder
}

func NewClient(opts ClientOpts) *Client {
	c := Client{baseURL: DefaultBaseURL, metrics: opts.Metrics}
	if opts.BaseURL != "" {
		c.baseURL = opts.BaseURL
	}
	timeout := defaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	c.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(c.baseURL).
		SetTimeout(timeout).
		SetHeaders(
			map[string]string{
				"Accept":     "application/json",
				"User-Agent": "resellkit/1",
			},
		)
	if opts.Auth != "" {
		c.httpClient.SetAuthToken(opts.Auth)
	}

	return &c
}

// BaseURL returns the backend base URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) req(ctx context.Context, result any) *resty.Request {
	request := c.httpClient.
		NewRequest().
		SetContext(ctx).
		ForceContentType("application/json")

	if result != nil {
		request.SetResult(result)
	}

	return request
}

// do runs the request and converts failing responses into errors.
func (c *Client) do(route string, request *resty.Request, method string) error {
	start := time.Now()
	res, err := request.Execute(method, route)
	status := 0
	if res != nil {
		status = res.StatusCode()
	}
	if c.metrics != nil {
		c.metrics.ObserveAPICall(route, status, time.Since(start))
	}
	_, err = handleError(res, err)
	if err != nil {
		log.Debug().Err(err).Str("route", route).Int("status", status).Msg("backend request failed")
	}
	return err
}

// handleError is a generic error handler for failing response (>399 status
// code). Without this, failing responses would have nil error.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		if verr := parseValidationError(res.StatusCode(), res.Body()); verr != nil {
			return res, verr
		}
		return res, &APIError{
			Method:     res.Request.Method,
			URL:        res.Request.URL,
			StatusCode: res.StatusCode(),
			Body:       string(res.Body()),
		}
	}

	return res, nil
}

func (c *Client) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	result := &HealthResponse{}
	if err := c.do(RouteHealth, c.req(ctx, result), resty.MethodGet); err != nil {
		return nil, fmt.Errorf("check health: %w", err)
	}
	return result, nil
}

// LookupProduct looks up product details by barcode.
func (c *Client) LookupProduct(ctx context.Context, body ProductLookupRequest) (*ProductDetails, error) {
	result := &ProductDetails{}
	if err := c.do(RouteLookup, c.req(ctx, result).SetBody(body), resty.MethodPost); err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	return result, nil
}

// ProcessProductImage removes the background and/or squares a product image.
func (c *Client) ProcessProductImage(ctx context.Context, body ProcessImageRequest) (*ProcessImageResponse, error) {
	result := &ProcessImageResponse{}
	if err := c.do(RouteProcessImage, c.req(ctx, result).SetBody(body), resty.MethodPost); err != nil {
		return nil, fmt.Errorf("process image: %w", err)
	}
	return result, nil
}

func (c *Client) GetAnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error) {
	result := &AnalyticsSummary{}
	if err := c.do(RouteSummary, c.req(ctx, result), resty.MethodGet); err != nil {
		return nil, fmt.Errorf("get analytics summary: %w", err)
	}
	return result, nil
}

// GenerateTitle generates a marketplace listing title.
func (c *Client) GenerateTitle(ctx context.Context, body GenerateTitleRequest) (*GenerateTitleResponse, error) {
	result := &GenerateTitleResponse{}
	if err := c.do(RouteGenerateTitle, c.req(ctx, result).SetBody(body), resty.MethodPost); err != nil {
		return nil, fmt.Errorf("generate title: %w", err)
	}
	return result, nil
}

// GenerateDescription generates a marketplace listing description.
func (c *Client) GenerateDescription(ctx context.Context, body GenerateDescriptionRequest) (*GenerateDescriptionResponse, error) {
	result := &GenerateDescriptionResponse{}
	if err := c.do(RouteGenerateDescription, c.req(ctx, result).SetBody(body), resty.MethodPost); err != nil {
		return nil, fmt.Errorf("generate description: %w", err)
	}
	return result, nil
}

// AnalyzeCondition grades an item's condition from an image URL.
func (c *Client) AnalyzeCondition(ctx context.Context, body AnalyzeConditionRequest) (*AnalyzeConditionResponse, error) {
	result := &AnalyzeConditionResponse{}
	if err := c.do(RouteAnalyzeCondition, c.req(ctx, result).SetBody(body), resty.MethodPost); err != nil {
		return nil, fmt.Errorf("analyze condition: %w", err)
	}
	return result, nil
}

// AnalyzePrice analyzes market prices for the given keywords.
func (c *Client) AnalyzePrice(ctx context.Context, body PriceAnalysisRequest) (*PriceAnalysisResponse, error) {
	result := &PriceAnalysisResponse{}
	if err := c.do(RouteAnalyzePrice, c.req(ctx, result).SetBody(body), resty.MethodPost); err != nil {
		return nil, fmt.Errorf("analyze price: %w", err)
	}
	return result, nil
}
