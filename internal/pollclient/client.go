package pollclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/attendsync/internal/attendance"
	"github.com/agentworkforce/attendsync/internal/httpretry"
	"github.com/google/uuid"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// RemoteClient is the read/write surface the Poller needs from the server.
type RemoteClient interface {
	GetState(ctx context.Context) (attendance.Database, error)
	Post(ctx context.Context, action attendance.ActionKind, payload any) (attendance.Database, error)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	retry      httpretry.Policy

	mu    sync.RWMutex
	token string
}

type writeEnvelope struct {
	Action  attendance.ActionKind `json:"action"`
	Payload any                   `json:"payload,omitempty"`
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3000"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		retry:      httpretry.Policy{MaxRetries: 3},
	}
}

func (c *HTTPClient) GetState(ctx context.Context) (attendance.Database, error) {
	var out attendance.Database
	err := c.doJSON(ctx, http.MethodGet, "/api/sync", nil, &out)
	return normalize(out), err
}

// Post sends one write action and returns the full state the server echoes back.
func (c *HTTPClient) Post(ctx context.Context, action attendance.ActionKind, payload any) (attendance.Database, error) {
	var out attendance.Database
	err := c.doJSON(ctx, http.MethodPost, "/api/sync", writeEnvelope{Action: action, Payload: payload}, &out)
	return normalize(out), err
}

// Login exchanges the admin password for a token and uses it on later calls.
func (c *HTTPClient) Login(ctx context.Context, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/admin/login", map[string]string{"password": password}, &out); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

func (c *HTTPClient) BackendStatus(ctx context.Context) (attendance.BackendStatus, error) {
	var out attendance.BackendStatus
	err := c.doJSON(ctx, http.MethodGet, "/api/admin/backends", nil, &out)
	return out, err
}

// ExportCSV streams the server-rendered CSV export into w.
func (c *HTTPClient) ExportCSV(ctx context.Context, w io.Writer) error {
	payload, err := c.do(ctx, http.MethodGet, "/api/records/export.csv", nil)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	payload, err := c.do(ctx, method, requestPath, bodyBytes)
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func (c *HTTPClient) do(ctx context.Context, method, requestPath string, bodyBytes []byte) ([]byte, error) {
	res, err := c.retry.Do(ctx, c.httpClient, func(ctx context.Context) (*http.Request, error) {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return nil, err
		}
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("X-Correlation-Id", "poll_"+uuid.NewString())
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return res.Body, nil
	}
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(res.Body, &errPayload)
	return nil, &HTTPError{
		StatusCode: res.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}

func (c *HTTPClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func normalize(db attendance.Database) attendance.Database {
	if db.Records == nil {
		db.Records = []attendance.AttendanceRecord{}
	}
	return db
}
