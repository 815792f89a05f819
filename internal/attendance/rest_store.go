package attendance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/attendsync/internal/httpretry"
)

type RESTStoreOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RESTDurableStore talks to a Redis-over-REST endpoint (the Upstash / Vercel KV
// wire format): GET /get/<key> and POST /set/<key>, values stored as JSON text.
type RESTDurableStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      httpretry.Policy
}

type restResponse struct {
	Result *string `json:"result"`
	Error  string  `json:"error"`
}

type RESTStoreError struct {
	StatusCode int
	Message    string
}

func (e *RESTStoreError) Error() string {
	return fmt.Sprintf("kv rest status=%d message=%s", e.StatusCode, e.Message)
}

func NewRESTDurableStore(opts RESTStoreOptions) (*RESTDurableStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrInvalidInput
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Second
	}
	return &RESTDurableStore{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		retry: httpretry.Policy{
			MaxRetries: max(opts.MaxRetries, 0),
			BaseDelay:  opts.BaseDelay,
			MaxDelay:   maxDelay,
		},
	}, nil
}

func (s *RESTDurableStore) Kind() string {
	return "rest"
}

func (s *RESTDurableStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	resp, err := s.do(ctx, http.MethodGet, "/get/"+url.PathEscape(key), nil)
	if err != nil {
		return nil, false, err
	}
	if resp.Result == nil {
		return nil, false, nil
	}
	raw := json.RawMessage(*resp.Result)
	if !json.Valid(raw) {
		return nil, false, fmt.Errorf("%w: key %s holds non-json value", ErrDurableCorrupt, key)
	}
	return raw, true, nil
}

func (s *RESTDurableStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	_, err := s.do(ctx, http.MethodPost, "/set/"+url.PathEscape(key), value)
	return err
}

func (s *RESTDurableStore) do(ctx context.Context, method, path string, body []byte) (restResponse, error) {
	res, err := s.retry.Do(ctx, s.httpClient, func(ctx context.Context) (*http.Request, error) {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
		if err != nil {
			return nil, err
		}
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "text/plain")
		}
		return req, nil
	})
	if err != nil {
		return restResponse{}, err
	}

	var parsed restResponse
	decodeErr := json.Unmarshal(res.Body, &parsed)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		message := strings.TrimSpace(parsed.Error)
		if message == "" {
			message = strings.TrimSpace(string(res.Body))
		}
		return restResponse{}, &RESTStoreError{StatusCode: res.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return restResponse{}, decodeErr
	}
	if parsed.Error != "" {
		return restResponse{}, &RESTStoreError{StatusCode: res.StatusCode, Message: parsed.Error}
	}
	return parsed, nil
}
