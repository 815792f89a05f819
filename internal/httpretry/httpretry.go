// Package httpretry sends HTTP requests with bounded, exponentially backed-off
// retries on transport errors, 429 and 5xx answers.
package httpretry

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseDelay = 100 * time.Millisecond
	DefaultMaxDelay  = 2 * time.Second
)

// Policy bounds the retries of one logical call. Zero delays take the defaults.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Response is a fully read HTTP answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestFunc builds a fresh request for every attempt so bodies can be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Retryable reports whether a status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// Do runs build until it gets a non-retryable answer or runs out of retries.
// The last retryable response is returned as-is once retries are spent; only
// transport failures come back as errors.
func (p Policy) Do(ctx context.Context, client *http.Client, build RequestFunc) (Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	for attempt := 1; ; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return Response{}, err
		}
		res, err := send(client, req)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		if err == nil && !Retryable(res.StatusCode) {
			return res, nil
		}
		if attempt > p.MaxRetries {
			return res, err
		}
		var retryAfter string
		if err == nil {
			retryAfter = res.Header.Get("Retry-After")
		}
		if waitErr := Wait(ctx, p.Delay(attempt, retryAfter)); waitErr != nil {
			return Response{}, waitErr
		}
	}
}

// Delay is the pause after the given failed attempt (1-based). A Retry-After
// header wins over the exponential schedule; both are capped at MaxDelay.
func (p Policy) Delay(attempt int, retryAfter string) time.Duration {
	base, ceiling := p.BaseDelay, p.MaxDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	if hinted := ParseRetryAfter(retryAfter); hinted > 0 {
		return min(hinted, ceiling)
	}
	delay := base
	for i := 1; i < attempt && delay < ceiling; i++ {
		delay *= 2
	}
	return min(delay, ceiling)
}

// ParseRetryAfter accepts delta-seconds or an HTTP date. Anything else is zero.
func ParseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}

// Wait sleeps for delay unless ctx ends first.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func send(client *http.Client, req *http.Request) (Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
