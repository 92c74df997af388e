// Package geoapi is the remote observation and zonal reduction backend,
// spoken over HTTP and JSON.
package geoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/pipeline"
	"github.com/couchcryptid/epiweek-climate-etl/internal/raster"
)

// Client implements pipeline.ObservationSource and pipeline.ZonalReducer.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a geoapi client. timeout caps a single HTTP exchange.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// QueryObservations lists the daily observations of q.Collection in
// [q.Start, q.End) that intersect q.Bounds.
func (c *Client) QueryObservations(ctx context.Context, q pipeline.Query) ([]raster.Observation, error) {
	params := url.Values{
		"bbox":  {fmt.Sprintf("%g,%g,%g,%g", q.Bounds.MinX, q.Bounds.MinY, q.Bounds.MaxX, q.Bounds.MaxY)},
		"start": {domain.FormatDay(q.Start)},
		"end":   {domain.FormatDay(q.End)},
		"bands": {strings.Join(q.Bands, ",")},
	}
	u := fmt.Sprintf("%s/v1/collections/%s/observations?%s", c.baseURL, url.PathEscape(q.Collection), params.Encode())

	var resp observationsResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}

	out := make([]raster.Observation, 0, len(resp.Observations))
	for _, j := range resp.Observations {
		obs, err := decodeObservation(j)
		if err != nil {
			return nil, fmt.Errorf("%w: query %s: %w", domain.ErrPermanent, q.Collection, err)
		}
		out = append(out, obs)
	}
	c.logger.Debug("observations fetched",
		"collection", q.Collection,
		"start", domain.FormatDay(q.Start),
		"end", domain.FormatDay(q.End),
		"count", len(out),
	)
	return out, nil
}

// ReduceZonal asks the service to reduce g over the polygons.
func (c *Client) ReduceZonal(ctx context.Context, g *raster.Grid, polygons []raster.Polygon, stats []domain.Statistic, resolution float64) ([]raster.ZonalValue, error) {
	zones, err := encodeZones(polygons)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPermanent, err)
	}
	body, err := json.Marshal(reduceRequest{
		Grid:       encodeGrid(g),
		Zones:      zones,
		Statistics: stats,
		Resolution: resolution,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode reduce request: %w", domain.ErrPermanent, err)
	}

	var resp reduceResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/reduce", body, &resp); err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}

	out := make([]raster.ZonalValue, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = raster.ZonalValue{PolygonID: r.ZoneID, Statistic: r.Statistic, Value: r.value()}
	}
	return out, nil
}

// do sends one request and decodes a 200 JSON response into dst. Client
// errors other than 408 and 429 are marked permanent.
func (c *Client) do(ctx context.Context, method, fullURL string, body []byte, dst any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", domain.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrPermanent, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}

	err := fmt.Errorf("geoapi error: status %d: %s", resp.StatusCode, msg)
	if retryableStatus(resp.StatusCode) {
		return err
	}
	return errors.Join(domain.ErrPermanent, err)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}
