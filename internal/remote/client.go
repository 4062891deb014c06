// Package remote implements the thin HTTP operations against the
// bucket-oriented storage service: connectivity probe, identifier probing,
// metadata and task-history reads, and object PUT/DELETE. Failures are
// classified on exactly two axes, common.ErrConnection (no usable response)
// and common.ErrRecord (the service answered and said no); callers translate
// that classification into beam process values.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/logging"
	"github.com/dmitrijs2005/beamup/internal/retryx"
)

// ProgressFunc receives transfer progress for one object: bytes sent so far
// and the expected total (-1 when unknown). It is scoped to a single call;
// there is no process-wide progress state.
type ProgressFunc func(sent, total int64)

// Result is the outcome of a single PUT or DELETE.
type Result struct {
	Code int
	Err  error
}

// Classify maps a Result onto the two-axis failure taxonomy: nil for 2xx,
// common.ErrConnection for transport errors, common.ErrRecord otherwise.
func (r Result) Classify() error {
	if r.Err != nil {
		return fmt.Errorf("%w: %w", common.ErrConnection, r.Err)
	}
	if r.Code < 200 || r.Code > 299 {
		return fmt.Errorf("%w: http status %d", common.ErrRecord, r.Code)
	}
	return nil
}

// API is the set of remote operations the engine depends on. *Client is the
// production implementation; tests substitute fakes.
type API interface {
	ProbeConnectivity(ctx context.Context) bool
	IdentifierInUse(ctx context.Context, identifier string) (bool, error)
	FetchMetadata(ctx context.Context, bucket string) (*Metadata, error)
	WaitForMetadata(ctx context.Context, bucket string, maxWait time.Duration) (*Metadata, error)
	FetchTaskHistory(ctx context.Context, bucket string) (TaskHistory, error)
	PutObject(ctx context.Context, url string, headers http.Header, body io.Reader, size int64, progress ProgressFunc) Result
	DeleteObject(ctx context.Context, url string, headers http.Header) Result
}

type Client struct {
	httpc *http.Client
	// noRedirect is used for identifier probes, where the 302 itself is
	// the answer.
	noRedirect *http.Client
	cfg        *config.Config
	log        logging.Logger
}

var _ API = (*Client)(nil)

func NewClient(cfg *config.Config, log logging.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
	}
	return &Client{
		httpc: &http.Client{Transport: transport},
		noRedirect: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg: cfg,
		log: log,
	}
}

// ProbeConnectivity performs a cheap HEAD against the service root. It is a
// fast-fail gate before expensive calls, nothing more.
func (c *Client) ProbeConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// IdentifierInUse reports whether identifier already addresses something on
// the remote service. An identifier containing a path separator is a file
// path and triggers the two-stage check: bucket redirect first, then the
// filename under the redirect target. A non-nil error means the check could
// not be made (connection trouble); the caller must not treat that as free.
func (c *Client) IdentifierInUse(ctx context.Context, identifier string) (bool, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" || trimmed == "." || trimmed == "/" {
		// Degenerate identifiers are never claimable.
		return true, nil
	}

	if strings.Contains(identifier, "/") {
		return c.fileIdentifierInUse(ctx, identifier)
	}
	used, _, err := c.bucketRedirect(ctx, identifier)
	return used, err
}

// bucketRedirect asks the canonical download path for the identifier. A 302
// pointing at the storage host means the bucket exists; the redirect target
// is returned for follow-up file checks.
func (c *Client) bucketRedirect(ctx context.Context, bucket string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, DownloadURL(c.cfg, bucket), nil)
	if err != nil {
		return false, "", err
	}
	resp, err := c.noRedirect.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("%w: %w", common.ErrConnection, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusFound {
		return false, "", nil
	}
	location := resp.Header.Get("Location")
	u, err := url.Parse(location)
	if err != nil || !strings.HasSuffix(u.Hostname(), strings.TrimPrefix(c.cfg.RedirectHostSuffix, ".")) {
		return false, "", nil
	}
	return true, location, nil
}

func (c *Client) fileIdentifierInUse(ctx context.Context, identifier string) (bool, error) {
	bucket := path.Dir(identifier)
	filename := path.Base(identifier)
	if bucket == "" || bucket == "." || bucket == "/" || filename == "" {
		return true, nil
	}

	used, location, err := c.bucketRedirect(ctx, bucket)
	if err != nil {
		return false, err
	}
	if !used {
		// The bucket does not resolve yet, so the listing cannot be
		// consulted; report unknown rather than free.
		return false, fmt.Errorf("%w: bucket %q not resolvable", common.ErrConnection, bucket)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(location, "/")+"/"+filename, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrConnection, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK, nil
}

// FetchMetadata GETs the metadata document for a bucket. An empty JSON
// object means "no bucket yet or nothing in it" and is returned as
// (nil, nil) so callers can fall back to the task-history disambiguation.
func (c *Client) FetchMetadata(ctx context.Context, bucket string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, MetadataURL(c.cfg, bucket), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: metadata fetch returned %d", common.ErrRecord, resp.StatusCode)
	}

	if isEmptyJSON(body) {
		return nil, nil
	}

	meta := &Metadata{}
	if err := json.Unmarshal(body, meta); err != nil {
		return nil, fmt.Errorf("%w: malformed metadata: %w", common.ErrRecord, err)
	}
	return meta, nil
}

// WaitForMetadata polls FetchMetadata once per second until the document is
// non-empty or maxWait elapses. Bucket creation normally takes seconds but
// can take much longer during maintenance; the caller decides what an empty
// answer after the budget means. Running out of budget is not an error here:
// (nil, nil) is returned. Connection errors are retried within the budget;
// only when the service never answered at all is the last one returned.
func (c *Client) WaitForMetadata(ctx context.Context, bucket string, maxWait time.Duration) (*Metadata, error) {
	var meta *Metadata
	var connErr error

	err := retryx.Poll(ctx, time.Second, maxWait, func(ctx context.Context) (bool, error) {
		m, err := c.FetchMetadata(ctx, bucket)
		if err != nil {
			if errors.Is(err, common.ErrConnection) {
				connErr = err
				return false, nil
			}
			return false, err
		}
		connErr = nil
		if m == nil {
			return false, nil
		}
		meta = m
		return true, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrDeadlineExceeded) {
			return nil, connErr
		}
		return nil, err
	}
	return meta, nil
}

// FetchTaskHistory scrapes the catalog page for a bucket. It is used only as
// a fallback disambiguator when metadata comes back empty, to tell "bucket
// never created" from "bucket still creating".
func (c *Client) FetchTaskHistory(ctx context.Context, bucket string) (TaskHistory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, TasksURL(c.cfg, bucket), nil)
	if err != nil {
		return TaskHistory{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return TaskHistory{}, fmt.Errorf("%w: %w", common.ErrConnection, err)
	}
	defer resp.Body.Close()

	// The service answers 409 on the catalog while the bucket is being
	// created; the refusal itself is the signal.
	if resp.StatusCode == http.StatusConflict {
		return TaskHistory{InCreation: true}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TaskHistory{}, fmt.Errorf("%w: %w", common.ErrConnection, err)
	}

	page := string(body)
	return TaskHistory{
		Historical:  !strings.Contains(page, "No historical tasks."),
		Outstanding: !strings.Contains(page, "No outstanding tasks."),
	}, nil
}

// PutObject issues a single PUT with the supplied headers and an
// already-open body stream. The transfer is guarded by the low-speed
// watchdog: less than one byte per second over the configured window aborts
// the request, which surfaces as a connection failure.
func (c *Client) PutObject(ctx context.Context, target string, headers http.Header, body io.Reader, size int64, progress ProgressFunc) Result {
	return c.send(ctx, http.MethodPut, target, headers, body, size, progress)
}

// DeleteObject emulates removal: the service supports no bucket deletion, so
// the caller passes the cascade-delete header and the object path.
func (c *Client) DeleteObject(ctx context.Context, target string, headers http.Header) Result {
	return c.send(ctx, http.MethodDelete, target, headers, nil, 0, nil)
}

func (c *Client) send(ctx context.Context, method, target string, headers http.Header, body io.Reader, size int64, progress ProgressFunc) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var guard *stallGuard
	if body != nil {
		guard = newStallGuard(body, size, progress)
		body = guard
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return Result{Err: err}
	}
	if size > 0 {
		req.ContentLength = size
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	if guard != nil {
		stop := guard.watch(c.cfg.LowSpeedTime, cancel)
		defer stop()
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if guard != nil && guard.stalled() {
			err = fmt.Errorf("transfer stalled below 1 B/s for %s: %w", c.cfg.LowSpeedTime, err)
		}
		return Result{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{Code: resp.StatusCode}
}

func isEmptyJSON(body []byte) bool {
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, string(body))
	return compact == "{}"
}
