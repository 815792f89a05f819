package attendance

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type DurableStoreOptions struct {
	// Token authenticates against http(s) KV endpoints.
	Token      string
	HTTPClient *http.Client
}

// BuildDurableStoreFromDSN picks a DurableStore implementation from the DSN scheme.
// An empty DSN returns a nil store, which means local-only mode.
func BuildDurableStoreFromDSN(dsn string, opts DurableStoreOptions) (DurableStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupDurableStoreFactory(scheme); ok {
		return factory(dsn, opts)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewInMemoryDurableStore(), nil
	case "postgres", "postgresql":
		return NewPostgresDurableStore(dsn)
	case "redis", "rediss":
		return NewRedisDurableStore(dsn)
	case "badger":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		if path == "memory" {
			path = ""
		}
		return NewBadgerDurableStore(path)
	case "http", "https":
		return NewRESTDurableStore(RESTStoreOptions{
			BaseURL:    dsn,
			Token:      opts.Token,
			HTTPClient: opts.HTTPClient,
			MaxRetries: 2,
		})
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: durable store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported durable store scheme: %q", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Host + parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
