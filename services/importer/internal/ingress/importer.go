package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/02loveslollipop/waterland-gwin-import/services/importer/internal/models"
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Second
	defaultTimeout  = 30 * time.Second

	// maxLoggedBody bounds how much of the dashboard response is read and logged.
	maxLoggedBody = 64 << 10
)

// StatusError is returned when the ingestion endpoint answers with a non-2xx
// status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingress responded %s", e.Status)
	}
	return fmt.Sprintf("ingress responded %s: %s", e.Status, e.Body)
}

// Config holds the importer settings.
type Config struct {
	URL      string
	Username string
	Password string
	// Timeout bounds each POST attempt.
	Timeout time.Duration
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// Delay is multiplied by the attempt number to get the wait before the
	// next try.
	Delay time.Duration
	// Envelope, when set, wraps the batch as {Envelope: [...]}. Otherwise the
	// body is the bare array.
	Envelope string
}

// Result reports a completed import.
type Result struct {
	Success     bool `json:"success"`
	RecordCount int  `json:"recordCount"`
	Attempts    int  `json:"attempts"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Importer posts transformed batches to the SmartDrainage ingestion endpoint.
type Importer struct {
	cfg    Config
	client *http.Client
	logger kitlog.Logger
	sleep  SleepFunc
}

// Option customises an Importer.
type Option func(*Importer)

// WithSleep replaces the wait used between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(i *Importer) {
		i.sleep = fn
	}
}

// NewImporter returns an Importer. A nil httpClient means http.DefaultClient.
func NewImporter(cfg Config, httpClient *http.Client, logger kitlog.Logger, opts ...Option) *Importer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	i := &Importer{
		cfg:    cfg,
		client: httpClient,
		logger: kitlog.With(logger, "module", "ingress"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Import delivers records in a single POST, retrying with a linearly growing
// delay. An empty batch makes no request.
func (i *Importer) Import(ctx context.Context, records []models.TransformedRecord) (Result, error) {
	level.Info(i.logger).Log("msg", "importing data to SmartDrainage", "url", i.cfg.URL, "recordCount", len(records))

	if len(records) == 0 {
		level.Info(i.logger).Log("msg", "no data to import")
		return Result{Success: true, RecordCount: 0}, nil
	}

	body, err := i.encode(records)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to encode batch")
	}

	var lastErr error
	for attempt := 1; attempt <= i.cfg.Attempts; attempt++ {
		respBody, err := i.post(ctx, body)
		if err == nil {
			level.Info(i.logger).Log(
				"msg", "data import completed successfully",
				"recordCount", len(records),
				"attempt", attempt,
				"response", respBody,
			)
			return Result{Success: true, RecordCount: len(records), Attempts: attempt}, nil
		}
		lastErr = err

		if attempt == i.cfg.Attempts {
			break
		}

		delay := i.cfg.Delay * time.Duration(attempt)
		level.Warn(i.logger).Log(
			"msg", "import attempt failed, retrying",
			"attempt", attempt,
			"maxAttempts", i.cfg.Attempts,
			"recordCount", len(records),
			"retryIn", delay.String(),
			"err", err,
		)
		if err := i.sleep(ctx, delay); err != nil {
			return Result{Attempts: attempt}, errors.Wrap(err, "import retry aborted")
		}
	}

	level.Error(i.logger).Log("msg", "error importing data to SmartDrainage", "attempts", i.cfg.Attempts, "err", lastErr)
	return Result{Attempts: i.cfg.Attempts}, errors.Wrapf(lastErr, "import failed after %d attempts", i.cfg.Attempts)
}

func (i *Importer) encode(records []models.TransformedRecord) ([]byte, error) {
	if i.cfg.Envelope == "" {
		return json.Marshal(records)
	}
	return json.Marshal(map[string][]models.TransformedRecord{i.cfg.Envelope: records})
}

func (i *Importer) post(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(i.cfg.Username, i.cfg.Password)

	resp, err := i.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "post batch")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bytes.TrimSpace(respBody))}
	}

	return string(bytes.TrimSpace(respBody)), nil
}
