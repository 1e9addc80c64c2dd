package httpclient

import "context"

// Response is a minimal HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// BasicAuth carries HTTP basic auth credentials for a single request.
type BasicAuth struct {
	Username string
	Password string
}

// Request describes one outbound call. Body is sent verbatim when non-nil.
type Request struct {
	Method    string
	URL       string
	Headers   map[string]string
	Body      []byte
	BasicAuth *BasicAuth
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Do(ctx context.Context, req Request) (Response, error)
}
