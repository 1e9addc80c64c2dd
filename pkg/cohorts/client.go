package cohorts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samvad-hq/amplitude-cohorts/pkg/httpclient"
)

const (
	// DefaultBaseURL is the Behavioral Cohorts API root.
	DefaultBaseURL = "https://amplitude.com/api/3/cohorts"

	defaultTimeout = 30 * time.Second
	maxLoggedBody  = 2048
)

// rejectedStatuses are the upload statuses reported as a soft rejection.
var rejectedStatuses = map[int]struct{}{
	http.StatusBadRequest:          {},
	http.StatusUnauthorized:        {},
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
}

// FetchOptions controls which user properties FetchCohort asks for.
type FetchOptions struct {
	IncludeProperties bool
	// PropertyKeys limits the returned properties. Empty means all of them.
	PropertyKeys []string
}

// Client talks to the Behavioral Cohorts API on behalf of one project.
type Client struct {
	creds   Credentials
	baseURL string
	http    httpclient.Client
	log     Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the logger used when the client is verbose.
func WithLogger(log Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithBaseURL overrides the API root.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient swaps the transport.
func WithHTTPClient(hc httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a client. When verbose is false all diagnostics are dropped.
func NewClient(creds Credentials, verbose bool, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("credentials must not be nil")
	}

	c := &Client{creds: creds, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.baseURL = strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if c.baseURL == "" {
		return nil, fmt.Errorf("base url must not be empty")
	}
	if c.http == nil {
		c.http = httpclient.NewRestyClient(defaultTimeout)
	}
	if verbose {
		c.log = ensureLogger(c.log)
	} else {
		c.log = noopLogger{}
	}
	return c, nil
}

// FetchCohort returns a discoverable cohort by id. Any failure is logged and reported as
// (nil, false), which callers must read as "unknown", not as "does not exist". Non-2xx
// responses count as failures even when their body is a JSON object.
func (c *Client) FetchCohort(ctx context.Context, cohortID string, opts FetchOptions) (Cohort, bool) {
	cohortID = strings.TrimSpace(cohortID)
	if cohortID == "" {
		c.log.ErrorObj("cohort fetch failed", "cohort_fetch", map[string]any{
			"error": "cohort id is empty",
		})
		return nil, false
	}

	if !opts.IncludeProperties && len(opts.PropertyKeys) > 0 {
		c.log.WarnObj("property keys ignored without include properties", "cohort_fetch", map[string]any{
			"cohort_id":     cohortID,
			"property_keys": opts.PropertyKeys,
		})
	}

	endpoint := c.cohortURL(cohortID, opts)
	c.log.DebugObj("fetching cohort", "cohort_fetch", map[string]any{"url": endpoint})

	var cohort Cohort
	if err := c.getJSON(ctx, endpoint, &cohort); err != nil {
		c.log.ErrorObj("cohort fetch failed", "cohort_fetch", map[string]any{
			"cohort_id": cohortID,
			"error":     err.Error(),
		})
		return nil, false
	}
	if cohort == nil {
		c.log.ErrorObj("cohort fetch failed", "cohort_fetch", map[string]any{
			"cohort_id": cohortID,
			"error":     "response is not a json object",
		})
		return nil, false
	}
	return cohort, true
}

// ListAllCohorts returns every cohort of the project in server order. Failures are logged
// and reported as (nil, false).
func (c *Client) ListAllCohorts(ctx context.Context) ([]Cohort, bool) {
	var payload map[string]json.RawMessage
	if err := c.getJSON(ctx, c.baseURL, &payload); err != nil {
		c.log.ErrorObj("cohort list failed", "cohort_list", map[string]any{"error": err.Error()})
		return nil, false
	}

	raw, ok := payload["cohorts"]
	if !ok || string(raw) == "null" {
		c.log.ErrorObj("cohort list failed", "cohort_list", map[string]any{
			"error": "response has no cohorts field",
		})
		return nil, false
	}

	cohorts := make([]Cohort, 0)
	if err := json.Unmarshal(raw, &cohorts); err != nil {
		c.log.ErrorObj("cohort list failed", "cohort_list", map[string]any{
			"error": fmt.Sprintf("decode cohorts: %v", err),
		})
		return nil, false
	}

	c.log.DebugObj("cohorts listed", "cohort_list", map[string]any{"count": len(cohorts)})
	return cohorts, true
}

// UploadCohortFromIDs creates a cohort from an id list. Invalid requests fail before any
// network call. Statuses 400, 401, 429 and 500 return false with a nil error; any other
// status counts as created. Transport errors are returned wrapped.
func (c *Client) UploadCohortFromIDs(ctx context.Context, req UploadRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		c.log.ErrorObj("cohort upload request invalid", "cohort_upload", map[string]any{
			"name":  req.Name,
			"error": err.Error(),
		})
		return false, err
	}

	body, err := json.Marshal(req.payload())
	if err != nil {
		c.log.ErrorObj("cohort upload request encoding failed", "cohort_upload", map[string]any{
			"name":  req.Name,
			"error": err.Error(),
		})
		return false, fmt.Errorf("marshal upload request: %w", err)
	}

	resp, err := c.http.Do(ctx, httpclient.Request{
		Method:    http.MethodPost,
		URL:       c.baseURL + "/upload",
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      body,
		BasicAuth: c.basicAuth(),
	})
	if err != nil {
		return false, fmt.Errorf("upload cohort: %w", err)
	}

	status := resp.StatusCode()
	confirmation := readBodySnippet(resp.Body())
	if _, rejected := rejectedStatuses[status]; rejected {
		c.log.WarnObj("cohort upload rejected", "cohort_upload", map[string]any{
			"name":   req.Name,
			"status": status,
			"body":   confirmation,
		})
		return false, nil
	}

	c.log.InfoObj("cohort created", "cohort_upload", map[string]any{
		"name":   req.Name,
		"status": status,
		"body":   confirmation,
	})
	return true, nil
}

// cohortURL builds {base}/{id}?props=N[&propKeys=...]. Keys are only sent with props=1.
func (c *Client) cohortURL(cohortID string, opts FetchOptions) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteByte('/')
	b.WriteString(url.PathEscape(cohortID))
	if opts.IncludeProperties {
		b.WriteString("?props=1")
		for _, key := range opts.PropertyKeys {
			b.WriteString("&propKeys=")
			b.WriteString(url.QueryEscape(key))
		}
	} else {
		b.WriteString("?props=0")
	}
	return b.String()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method:    http.MethodGet,
		URL:       endpoint,
		BasicAuth: c.basicAuth(),
	})
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status > 299 {
		return fmt.Errorf("http response status %d: %s", status, readBodySnippet(resp.Body()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) basicAuth() *httpclient.BasicAuth {
	return &httpclient.BasicAuth{Username: c.creds.APIKey(), Password: c.creds.SecretKey()}
}

// readBodySnippet caps logged bodies at maxLoggedBody bytes without splitting a rune.
func readBodySnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > maxLoggedBody {
		cut := maxLoggedBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut]
	}
	return strings.TrimSpace(string(body))
}
