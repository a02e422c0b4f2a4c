package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
)

// DefaultTimeout bounds a single remote call at the transport level.
const DefaultTimeout = 30 * time.Second

// HTTPClient implements Service against a JSON REST backend:
//
//	POST   {base}/tables/{table}/records            insert
//	PATCH  {base}/tables/{table}/records/{id}       update
//	DELETE {base}/tables/{table}/records/{id}       delete
//	GET    {base}/tables/{table}/records?userId=&since=  select since
//
// Every request carries a bearer token and a correlation id for tracing.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPClient creates a client for the given base URL. timeout <= 0
// uses DefaultTimeout.
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "remote").Logger(),
	}
}

// Insert implements Service.
func (c *HTTPClient) Insert(ctx context.Context, table string, rec *models.Record) (*models.Record, error) {
	path := fmt.Sprintf("/tables/%s/records", url.PathEscape(table))
	var out models.Record
	if err := c.do(ctx, http.MethodPost, path, rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update implements Service.
func (c *HTTPClient) Update(ctx context.Context, table, id string, partial models.Fields) (*models.Record, error) {
	path := fmt.Sprintf("/tables/%s/records/%s", url.PathEscape(table), url.PathEscape(id))
	var out models.Record
	if err := c.do(ctx, http.MethodPatch, path, partial, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete implements Service.
func (c *HTTPClient) Delete(ctx context.Context, table, id string) error {
	path := fmt.Sprintf("/tables/%s/records/%s", url.PathEscape(table), url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SelectSince implements Service.
func (c *HTTPClient) SelectSince(ctx context.Context, table, userID string, since int64) ([]*models.Record, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("since", strconv.FormatInt(since, 10))
	path := fmt.Sprintf("/tables/%s/records?%s", url.PathEscape(table), q.Encode())

	var out []*models.Record
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ping probes backend reachability. The network monitor uses it.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(errors.ErrTransient, "build ping request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrTransient, "remote unreachable", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.Newf(errors.ErrTransient, "remote unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrValidation, "marshal request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(errors.ErrTransient, "build request", err)
	}

	correlationID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logger := c.logger.With().
		Str("method", method).
		Str("path", path).
		Str("correlation_id", correlationID).
		Logger()

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failure, DNS, timeout: all retryable.
		logger.Debug().Err(err).Msg("remote call failed")
		return errors.Wrap(errors.ErrTransient, "remote call failed", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		logger.Debug().Int("status", resp.StatusCode).Msg("remote rejected request")
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(errors.ErrTransient, "decode response", err)
		}
	}
	return nil
}

// statusError maps HTTP status codes onto the core's error taxonomy.
func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrNotFound, "record not found remotely")
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnprocessableEntity:
		return errors.Newf(errors.ErrValidation, "remote rejected payload: %s", readError(resp))
	default:
		return errors.Newf(errors.ErrTransient, "remote error: %s", resp.Status)
	}
}

func readError(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(raw) == 0 {
		return resp.Status
	}
	return string(raw)
}
