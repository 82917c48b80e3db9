package waterland

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/models"
)

const defaultTimeout = 30 * time.Second

// StatusError is returned when WaterLand answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s from %s", e.Status, e.URL)
}

// Config holds the fetcher settings.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	// Concurrency caps parallel per-site requests; zero means one goroutine
	// per site.
	Concurrency int
}

// Result is the outcome of a fetch: successfully retrieved readings plus the
// number of sites whose latest reading could not be retrieved.
type Result struct {
	Records []models.RawRecord
	Sites   int
	Failed  int
}

// Client retrieves sites and their latest readings from the WaterLand API.
type Client struct {
	cfg    Config
	client *http.Client
	logger kitlog.Logger
}

// NewClient returns a Client. A nil httpClient means http.DefaultClient.
func NewClient(cfg Config, httpClient *http.Client, logger kitlog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		client: httpClient,
		logger: kitlog.With(logger, "module", "waterland"),
	}
}

func (c *Client) tokenURL() string {
	return c.cfg.BaseURL + "/api/" + url.PathEscape(c.cfg.AccessToken)
}

func (c *Client) latestURL(siteName string) string {
	return c.tokenURL() + "/" + url.PathEscape(siteName) + "/data/latest"
}

// FetchSites retrieves the token index listing the monitored sites.
func (c *Client) FetchSites(ctx context.Context) (models.TokenResponse, error) {
	var payload models.TokenResponse
	level.Debug(c.logger).Log("msg", "fetching token data", "baseUrl", c.cfg.BaseURL)

	if err := c.getJSON(ctx, c.tokenURL(), &payload); err != nil {
		return models.TokenResponse{}, errors.Wrap(err, "failed to fetch token data")
	}

	return payload, nil
}

// FetchLatest retrieves the latest reading of a single site.
func (c *Client) FetchLatest(ctx context.Context, site models.Site) (map[string]any, error) {
	if site.Name.String() == "" {
		return nil, errors.New("site has no site_name")
	}

	level.Debug(c.logger).Log("msg", "fetching sensor data", "siteName", site.Name)

	var payload map[string]any
	if err := c.getJSON(ctx, c.latestURL(string(site.Name)), &payload); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch sensor data for %s", site.Name)
	}

	return payload, nil
}

// Fetch resolves the site list and then retrieves every site's latest
// reading concurrently. Only a failure to read the site list is returned as
// an error; per-site failures are counted in Result.Failed.
func (c *Client) Fetch(ctx context.Context) (Result, error) {
	level.Info(c.logger).Log("msg", "fetching data from WaterLand API", "baseUrl", c.cfg.BaseURL)

	index, err := c.FetchSites(ctx)
	if err != nil {
		level.Error(c.logger).Log("msg", "error fetching token data", "err", err)
		return Result{}, err
	}

	if len(index.Sites) == 0 {
		level.Warn(c.logger).Log("msg", "no sites found in token response")
		return Result{}, nil
	}

	level.Info(c.logger).Log("msg", "sites retrieved from WaterLand API", "siteCount", len(index.Sites))

	slots := make([]*models.RawRecord, len(index.Sites))

	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.Concurrency > 0 {
		g.SetLimit(c.cfg.Concurrency)
	}

	for i := range index.Sites {
		i := i
		site := index.Sites[i]
		g.Go(func() error {
			payload, err := c.FetchLatest(gctx, site)
			if err != nil {
				level.Error(c.logger).Log("msg", "error fetching sensor data for site", "siteName", site.Name, "err", err)
				return nil
			}
			slots[i] = &models.RawRecord{Site: &site, Payload: payload}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		level.Error(c.logger).Log("msg", "fetch aborted", "err", err)
		return Result{}, errors.Wrap(err, "fetch sensor data aborted")
	}

	res := Result{
		Records: make([]models.RawRecord, 0, len(slots)),
		Sites:   len(index.Sites),
	}
	for _, rec := range slots {
		if rec == nil {
			res.Failed++
			continue
		}
		res.Records = append(res.Records, *rec)
	}

	if res.Failed > 0 {
		level.Warn(c.logger).Log("msg", "some sensor data requests failed", "failedCount", res.Failed)
	}
	level.Info(c.logger).Log("msg", "data fetched successfully", "recordCount", len(res.Records))

	return res, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{URL: redact(target, c.cfg.AccessToken), StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decode payload")
	}

	return nil
}

// redact hides the access token, which is part of every request path.
func redact(target, token string) string {
	if token == "" {
		return target
	}
	return strings.ReplaceAll(target, url.PathEscape(token), "***")
}
