// Package segment produces binary masks for a natural-language query,
// preferring the remote segmentation service and falling back to local
// HSV color thresholding when the service is unreachable.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/logging"
)

// Result is the outcome of one segmentation request, remote or local.
type Result struct {
	Success        bool           `json:"success"`
	MaskBase64     string         `json:"mask_base64,omitempty"`
	Description    string         `json:"description,omitempty"`
	Error          string         `json:"error,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ProgressFunc receives coarse progress notes during a request.
type ProgressFunc func(note string)

// ClientOptions tune the remote client.
type ClientOptions struct {
	Endpoint        string        // full URL of the inference path
	Timeout         time.Duration // per-attempt HTTP timeout
	MaxRetries      int           // total attempts
	MaxConcurrent   int64         // in-flight request cap
	AvailabilityTTL time.Duration // health probe cache window
}

func (o *ClientOptions) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.AvailabilityTTL <= 0 {
		o.AvailabilityTTL = 5 * time.Minute
	}
}

// Client calls the remote segmentation service.
type Client struct {
	opts ClientOptions
	http *http.Client
	sem  *semaphore.Weighted

	mu          sync.Mutex
	availKnown  bool
	available   bool
	availStamp  time.Time
	healthURL   string
	retrySleep  func(time.Duration) // injectable for tests
	nowFn       func() time.Time
}

type inferRequest struct {
	ImageBase64  string `json:"imageBase64"`
	Query        string `json:"query"`
	SampleFrames int    `json:"sample_frames"`
}

type inferResponse struct {
	Mask        string `json:"mask"`
	Description string `json:"description"`
}

// NewClient creates a remote client for the given endpoint.
func NewClient(opts ClientOptions) *Client {
	opts.defaults()
	return &Client{
		opts:       opts,
		http:       &http.Client{Timeout: opts.Timeout},
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
		healthURL:  healthURL(opts.Endpoint),
		retrySleep: func(d time.Duration) { time.Sleep(d) },
		nowFn:      time.Now,
	}
}

func healthURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String()
}

// IsAvailable probes the service health path, caching the verdict for the
// configured TTL. Any HTTP response from the origin, including 404 and 405,
// counts as alive; only transport errors mean down.
func (c *Client) IsAvailable(ctx context.Context) bool {
	c.mu.Lock()
	if c.availKnown && c.nowFn().Sub(c.availStamp) < c.opts.AvailabilityTTL {
		v := c.available
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	alive := c.probe(ctx)

	c.mu.Lock()
	c.availKnown = true
	c.available = alive
	c.availStamp = c.nowFn()
	c.mu.Unlock()
	return alive
}

func (c *Client) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

// InvalidateAvailability drops the cached verdict so the next IsAvailable
// call probes again.
func (c *Client) InvalidateAvailability() {
	c.mu.Lock()
	c.availKnown = false
	c.mu.Unlock()
}

// Segment sends one image/query pair to the service. imageBase64 is a data
// URL or raw base64 JPEG. Retries use exponential backoff (2^i seconds) and
// fire only on 5xx, network or timeout errors; a 4xx is terminal.
func (c *Client) Segment(ctx context.Context, imageBase64, query string, sampleFrames int, progress ProgressFunc) (Result, error) {
	if sampleFrames <= 0 {
		sampleFrames = 16
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer c.sem.Release(1)

	start := c.nowFn()
	body, err := json.Marshal(inferRequest{
		ImageBase64:  imageBase64,
		Query:        query,
		SampleFrames: sampleFrames,
	})
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			if progress != nil {
				progress(fmt.Sprintf("retrying in %s (attempt %d/%d)", delay, attempt+1, c.opts.MaxRetries))
			}
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
			c.retrySleep(delay)
		}

		resp, retryable, err := c.attempt(ctx, body)
		if err == nil {
			elapsed := c.nowFn().Sub(start).Seconds()
			return Result{
				Success:        true,
				MaskBase64:     stripDataURL(resp.Mask),
				Description:    resp.Description,
				ElapsedSeconds: elapsed,
				Metadata:       map[string]any{"method": "remote", "attempts": attempt + 1},
			}, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		logging.Op("segment.retry").Warn("segmentation attempt failed",
			"attempt", attempt+1, "error", err)
	}

	return Result{
		Error:          lastErr.Error(),
		ElapsedSeconds: c.nowFn().Sub(start).Seconds(),
		Metadata:       map[string]any{"method": "remote"},
	}, lastErr
}

// attempt performs one HTTP round trip. The second return value reports
// whether the failure is worth retrying.
func (c *Client) attempt(ctx context.Context, body []byte) (*inferResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fault.New(fault.CodeNetworkError, "segmentation request failed").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, true, fault.New(fault.CodeNetworkError, "read segmentation response").WithCause(err)
	}

	if resp.StatusCode >= 500 {
		return nil, true, fault.New(fault.CodeNetworkError,
			fmt.Sprintf("segmentation service returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fault.New(fault.CodeInvalidParam,
			fmt.Sprintf("segmentation service rejected request with %d", resp.StatusCode))
	}

	var out inferResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fault.New(fault.CodeMessageFormat, "malformed segmentation response").WithCause(err)
	}
	if out.Mask == "" {
		return nil, false, fault.New(fault.CodeMissingData, "segmentation response carries no mask")
	}
	return &out, false, nil
}

// Task is one batch entry.
type Task struct {
	ImageBase64  string
	Query        string
	SampleFrames int
}

// BatchSegment fans tasks out under the shared concurrency cap and returns
// results in input order. Individual failures land in their Result slot;
// the call itself fails only on context cancellation.
func (c *Client) BatchSegment(ctx context.Context, tasks []Task, progress ProgressFunc) ([]Result, error) {
	results := make([]Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	var done int64
	var doneMu sync.Mutex

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			res, err := c.Segment(gctx, task.ImageBase64, task.Query, task.SampleFrames, nil)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = res
			if progress != nil {
				doneMu.Lock()
				done++
				progress(fmt.Sprintf("completed %d/%d", done, len(tasks)))
				doneMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func stripDataURL(s string) string {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		return s[i+len(";base64,"):]
	}
	return s
}
