// Package transport executes cases against a live system under test.
// Transport-layer errors are mapped to a distinguishable outcome variant
// rather than thrown past the runner.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/apiprobe/apiprobe/model"
	"github.com/apiprobe/apiprobe/pkg/logging"
)

// Adapter executes one case and records its outcome. Implementations must
// map transport failures into the outcome instead of returning them; the
// error return is reserved for malformed cases and cancellation.
type Adapter interface {
	Execute(ctx context.Context, c *model.Case) (*model.Outcome, error)
}

// HTTPOptions configures the HTTP adapter.
type HTTPOptions struct {
	BaseURL string
	// Timeout bounds each request attempt (default: 10s).
	Timeout time.Duration
	// Retries is the number of extra attempts on transient transport
	// errors. Responses are never retried: a 500 is a result, not an
	// error.
	Retries uint
	Client  *http.Client
	Logger  logging.Logger
}

// HTTP is the adapter for HTTP APIs.
type HTTP struct {
	base    *url.URL
	client  *http.Client
	timeout time.Duration
	retries uint
	logger  logging.Logger
}

// NewHTTP validates the base URL and builds the adapter.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", opts.BaseURL)
	}
	h := &HTTP{
		base:    base,
		client:  opts.Client,
		timeout: opts.Timeout,
		retries: opts.Retries,
		logger:  opts.Logger,
	}
	if h.client == nil {
		h.client = &http.Client{}
	}
	if h.timeout <= 0 {
		h.timeout = 10 * time.Second
	}
	if h.logger == nil {
		h.logger = logging.Noop()
	}
	return h, nil
}

// Execute sends the case and records the exchange. Transient transport
// errors are retried up to the configured budget; whatever error survives is
// recorded as the outcome's transport-failure variant.
func (h *HTTP) Execute(ctx context.Context, c *model.Case) (*model.Outcome, error) {
	target, body, err := h.render(c)
	if err != nil {
		return nil, err
	}

	attempt := func() (*model.Outcome, error) {
		o, err := h.roundTrip(ctx, c, target, body)
		if err != nil && !transient(err) {
			return nil, backoff.Permanent(err)
		}
		return o, err
	}
	outcome, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(h.retries+1))
	if err == nil {
		return outcome, nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// The whole run was cancelled, not this exchange.
		return nil, err
	}
	h.logger.Debugf("transport failure for %s: %v", c.Operation, err)
	return &model.Outcome{
		RequestURL:       target,
		TransportFailure: &model.TransportFailure{Kind: classify(err), Err: err},
	}, nil
}

func (h *HTTP) render(c *model.Case) (string, []byte, error) {
	u := *h.base
	u.Path = strings.TrimSuffix(u.Path, "/") + c.RenderPath()
	if len(c.Query) > 0 {
		q := u.Query()
		for k, v := range c.Query {
			q.Set(k, encodeValue(v))
		}
		u.RawQuery = q.Encode()
	}

	var body []byte
	if c.HasBody {
		encoded, err := json.Marshal(c.Body)
		if err != nil {
			return "", nil, fmt.Errorf("cannot encode body for %s: %w", c.Operation, err)
		}
		body = encoded
	}
	return u.String(), body, nil
}

func (h *HTTP) roundTrip(ctx context.Context, c *model.Case, target string, body []byte) (*model.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, c.Operation.Method, target, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if body != nil {
		contentType := "application/json"
		if c.Operation.Body != nil && c.Operation.Body.ContentType != "" {
			contentType = c.Operation.Body.ContentType
		}
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, encodeValue(v))
	}
	for k, v := range c.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: encodeValue(v)})
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	o := &model.Outcome{
		Status:      resp.StatusCode,
		Headers:     resp.Header,
		Body:        raw,
		ContentType: resp.Header.Get("Content-Type"),
		RequestURL:  target,
		Duration:    time.Since(start),
	}
	if len(raw) > 0 {
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			o.JSON = decoded
			o.JSONValid = true
		}
	}
	return o, nil
}

// transient reports whether an error is worth retrying: timeouts and broken
// connections. Everything else is either permanent or a response.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classify(err error) model.TransportFailureKind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return model.TransportTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return model.TransportConnection
	default:
		return model.TransportOther
	}
}

func encodeValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = encodeValue(e)
		}
		return strings.Join(parts, ",")
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
