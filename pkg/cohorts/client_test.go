package cohorts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/samvad-hq/amplitude-cohorts/pkg/httpclient"
)

type mockResponse struct {
	body       []byte
	statusCode int
}

func (r mockResponse) Body() []byte    { return r.body }
func (r mockResponse) StatusCode() int { return r.statusCode }

// spyClient records every request and answers with a canned response.
type spyClient struct {
	mu       sync.Mutex
	requests []httpclient.Request
	status   int
	body     string
	err      error
}

func (s *spyClient) Do(_ context.Context, req httpclient.Request) (httpclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	return mockResponse{body: []byte(s.body), statusCode: status}, nil
}

func (s *spyClient) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type logEntry struct {
	level string
	msg   string
	obj   interface{}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (r *recordingLogger) add(level, msg string, obj interface{}) {
	r.mu.Lock()
	r.entries = append(r.entries, logEntry{level: level, msg: msg, obj: obj})
	r.mu.Unlock()
}

func (r *recordingLogger) InfoObj(msg, _ string, obj interface{})  { r.add("info", msg, obj) }
func (r *recordingLogger) DebugObj(msg, _ string, obj interface{}) { r.add("debug", msg, obj) }
func (r *recordingLogger) WarnObj(msg, _ string, obj interface{})  { r.add("warn", msg, obj) }
func (r *recordingLogger) ErrorObj(msg, _ string, obj interface{}) { r.add("error", msg, obj) }

func (r *recordingLogger) byLevel(level string) []logEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logEntry
	for _, e := range r.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func newTestClient(t *testing.T, spy *spyClient, log Logger) *Client {
	t.Helper()
	c, err := NewClient(StaticCredentials{Key: "api-key", Secret: "secret-key"}, true,
		WithHTTPClient(spy), WithLogger(log))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func validRequest() UploadRequest {
	return UploadRequest{
		Name:   "Power users",
		AppID:  "12345",
		IDType: IDTypeUserID,
		IDs:    []string{"u1", "u2"},
		Owner:  "owner@example.com",
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(nil, false); err == nil {
		t.Fatalf("expected error for nil credentials")
	}
	if _, err := NewClient(StaticCredentials{}, false, WithBaseURL("  ")); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}

func TestFetchCohortBuildsPropertiesURL(t *testing.T) {
	spy := &spyClient{body: `{"id":"c1","name":"Cohort"}`}
	c := newTestClient(t, spy, &recordingLogger{})

	cohort, ok := c.FetchCohort(context.Background(), "c1", FetchOptions{
		IncludeProperties: true,
		PropertyKeys:      []string{"age", "country"},
	})
	if !ok {
		t.Fatalf("expected cohort")
	}
	if cohort["id"] != "c1" {
		t.Fatalf("unexpected cohort: %v", cohort)
	}

	if spy.calls() != 1 {
		t.Fatalf("expected 1 request, got %d", spy.calls())
	}
	req := spy.requests[0]
	want := DefaultBaseURL + "/c1?props=1&propKeys=age&propKeys=country"
	if req.URL != want {
		t.Fatalf("url = %q, want %q", req.URL, want)
	}
	if req.Method != http.MethodGet {
		t.Fatalf("method = %s", req.Method)
	}
	if req.BasicAuth == nil || req.BasicAuth.Username != "api-key" || req.BasicAuth.Password != "secret-key" {
		t.Fatalf("unexpected basic auth: %+v", req.BasicAuth)
	}
}

func TestFetchCohortAllPropertiesWhenNoKeys(t *testing.T) {
	spy := &spyClient{body: `{"id":"c1"}`}
	c := newTestClient(t, spy, nil)

	if _, ok := c.FetchCohort(context.Background(), "c1", FetchOptions{IncludeProperties: true}); !ok {
		t.Fatalf("expected cohort")
	}
	if got := spy.requests[0].URL; got != DefaultBaseURL+"/c1?props=1" {
		t.Fatalf("url = %q", got)
	}
}

func TestFetchCohortWarnsAndDropsKeysWithoutProperties(t *testing.T) {
	spy := &spyClient{body: `{"id":"c1"}`}
	log := &recordingLogger{}
	c := newTestClient(t, spy, log)

	if _, ok := c.FetchCohort(context.Background(), "c1", FetchOptions{PropertyKeys: []string{"age"}}); !ok {
		t.Fatalf("expected cohort")
	}
	if got := spy.requests[0].URL; got != DefaultBaseURL+"/c1?props=0" {
		t.Fatalf("url = %q", got)
	}
	if len(log.byLevel("warn")) != 1 {
		t.Fatalf("expected one warning, got %+v", log.entries)
	}
}

func TestFetchCohortMalformedBodyIsAbsent(t *testing.T) {
	spy := &spyClient{body: `<html>not json`}
	log := &recordingLogger{}
	c := newTestClient(t, spy, log)

	cohort, ok := c.FetchCohort(context.Background(), "c1", FetchOptions{})
	if ok || cohort != nil {
		t.Fatalf("expected absent result, got %v", cohort)
	}
	if len(log.byLevel("error")) != 1 {
		t.Fatalf("expected error log, got %+v", log.entries)
	}
}

func TestFetchCohortFailureModesAreAbsent(t *testing.T) {
	cases := map[string]*spyClient{
		"transport": {err: errors.New("dial tcp: timeout")},
		"status":    {status: http.StatusNotFound, body: `{"error":"not found"}`},
		"null":      {body: `null`},
		"array":     {body: `[1,2]`},
	}
	for name, spy := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, spy, nil)
			if cohort, ok := c.FetchCohort(context.Background(), "c1", FetchOptions{}); ok || cohort != nil {
				t.Fatalf("expected absent result, got %v", cohort)
			}
		})
	}
}

func TestFetchCohortEmptyIDSkipsRequest(t *testing.T) {
	spy := &spyClient{}
	c := newTestClient(t, spy, nil)
	if _, ok := c.FetchCohort(context.Background(), "  ", FetchOptions{}); ok {
		t.Fatalf("expected absent result")
	}
	if spy.calls() != 0 {
		t.Fatalf("expected no request, got %d", spy.calls())
	}
}

func TestFetchCohortEscapesIDAndKeys(t *testing.T) {
	spy := &spyClient{body: `{}`}
	c := newTestClient(t, spy, nil)
	c.FetchCohort(context.Background(), "a/b", FetchOptions{IncludeProperties: true, PropertyKeys: []string{"gp:plan type"}})
	want := DefaultBaseURL + "/a%2Fb?props=1&propKeys=gp%3Aplan+type"
	if got := spy.requests[0].URL; got != want {
		t.Fatalf("url = %q, want %q", got, want)
	}
}

func TestListAllCohortsPreservesOrder(t *testing.T) {
	spy := &spyClient{body: `{"cohorts": [{"id": "c1"}, {"id": "c2"}]}`}
	c := newTestClient(t, spy, nil)

	cohorts, ok := c.ListAllCohorts(context.Background())
	if !ok {
		t.Fatalf("expected cohorts")
	}
	if len(cohorts) != 2 || cohorts[0]["id"] != "c1" || cohorts[1]["id"] != "c2" {
		t.Fatalf("unexpected cohorts: %v", cohorts)
	}
	if got := spy.requests[0].URL; got != DefaultBaseURL {
		t.Fatalf("url = %q", got)
	}
}

func TestListAllCohortsEmptyList(t *testing.T) {
	c := newTestClient(t, &spyClient{body: `{"cohorts": []}`}, nil)
	cohorts, ok := c.ListAllCohorts(context.Background())
	if !ok || cohorts == nil || len(cohorts) != 0 {
		t.Fatalf("expected empty non-nil list, got %v ok=%v", cohorts, ok)
	}
}

func TestListAllCohortsFailuresAreAbsent(t *testing.T) {
	cases := map[string]*spyClient{
		"missing field": {body: `{"items": []}`},
		"null field":    {body: `{"cohorts": null}`},
		"malformed":     {body: `{"cohorts": [`},
		"transport":     {err: errors.New("connection reset")},
		"unauthorized":  {status: http.StatusUnauthorized, body: `denied`},
	}
	for name, spy := range cases {
		t.Run(name, func(t *testing.T) {
			log := &recordingLogger{}
			c := newTestClient(t, spy, log)
			if cohorts, ok := c.ListAllCohorts(context.Background()); ok || cohorts != nil {
				t.Fatalf("expected absent result, got %v", cohorts)
			}
			if len(log.byLevel("error")) == 0 {
				t.Fatalf("expected error log")
			}
		})
	}
}

func TestUploadSendsAllFields(t *testing.T) {
	spy := &spyClient{body: `{"cohort_id": "abc123"}`}
	c := newTestClient(t, spy, nil)

	ok, err := c.UploadCohortFromIDs(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("UploadCohortFromIDs: %v", err)
	}
	if !ok {
		t.Fatalf("expected created")
	}
	if spy.calls() != 1 {
		t.Fatalf("expected exactly one request, got %d", spy.calls())
	}

	req := spy.requests[0]
	if req.Method != http.MethodPost || req.URL != DefaultBaseURL+"/upload" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
	}
	if got := req.Headers["Content-Type"]; got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if req.BasicAuth == nil || req.BasicAuth.Username != "api-key" {
		t.Fatalf("missing basic auth")
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 6 {
		t.Fatalf("expected 6 fields, got %v", body)
	}
	if body["name"] != "Power users" || body["owner"] != "owner@example.com" || body["id_type"] != "BY_USER_ID" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["app_id"] != float64(12345) {
		t.Fatalf("app_id = %#v", body["app_id"])
	}
	if body["published"] != true {
		t.Fatalf("published should default to true, got %#v", body["published"])
	}
	ids, _ := body["ids"].([]any)
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Fatalf("ids = %v", body["ids"])
	}
}

func TestUploadValidationFailsBeforeNetwork(t *testing.T) {
	published := false
	cases := map[string]struct {
		mutate func(*UploadRequest)
		msg    string
	}{
		"no name and owner": {func(r *UploadRequest) { r.Name, r.Owner = "", "" }, "name and owner must be defined"},
		"no owner":          {func(r *UploadRequest) { r.Owner = "" }, "name and owner must be defined"},
		"no ids":            {func(r *UploadRequest) { r.IDs = nil }, "ids must be defined"},
		"bad id type":       {func(r *UploadRequest) { r.IDType = "BY_DEVICE_ID" }, "id_type must be BY_AMP_ID or BY_USER_ID"},
		"lowercase id type": {func(r *UploadRequest) { r.IDType = "by_amp_id" }, "id_type must be BY_AMP_ID or BY_USER_ID"},
		"not boolean":       {func(r *UploadRequest) { r.Published = &published; r.publishedNotBool = true }, "published must be boolean"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			spy := &spyClient{}
			log := &recordingLogger{}
			c := newTestClient(t, spy, log)

			req := validRequest()
			tc.mutate(&req)
			ok, err := c.UploadCohortFromIDs(context.Background(), req)
			if err == nil || ok {
				t.Fatalf("expected validation error, got ok=%v err=%v", ok, err)
			}
			if !errors.Is(err, ErrInvalidUploadRequest) {
				t.Fatalf("error %v does not wrap ErrInvalidUploadRequest", err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("error %q does not mention %q", err, tc.msg)
			}
			if spy.calls() != 0 {
				t.Fatalf("expected no network call, got %d", spy.calls())
			}
			if len(log.byLevel("error")) != 1 {
				t.Fatalf("expected one error log, got %+v", log.entries)
			}
		})
	}
}

func TestUploadRejectedStatusesReturnFalse(t *testing.T) {
	for _, status := range []int{400, 401, 429, 500} {
		spy := &spyClient{status: status, body: "bad request"}
		log := &recordingLogger{}
		c := newTestClient(t, spy, log)

		ok, err := c.UploadCohortFromIDs(context.Background(), validRequest())
		if err != nil {
			t.Fatalf("status %d: unexpected error %v", status, err)
		}
		if ok {
			t.Fatalf("status %d: expected rejection", status)
		}
		warns := log.byLevel("warn")
		if len(warns) != 1 {
			t.Fatalf("status %d: expected one warning, got %+v", status, log.entries)
		}
		fields, _ := warns[0].obj.(map[string]any)
		if fields["body"] != "bad request" {
			t.Fatalf("status %d: warning body = %v", status, fields["body"])
		}
	}
}

func TestUploadOtherStatusesCountAsCreated(t *testing.T) {
	for _, status := range []int{200, 202, 403, 404, 503} {
		spy := &spyClient{status: status, body: `{"cohort_id": "abc123"}`}
		log := &recordingLogger{}
		c := newTestClient(t, spy, log)

		ok, err := c.UploadCohortFromIDs(context.Background(), validRequest())
		if err != nil || !ok {
			t.Fatalf("status %d: ok=%v err=%v", status, ok, err)
		}
		if len(log.byLevel("info")) != 1 {
			t.Fatalf("status %d: expected info log", status)
		}
	}
}

func TestUploadPropagatesTransportErrors(t *testing.T) {
	boom := errors.New("i/o timeout")
	c := newTestClient(t, &spyClient{err: boom}, nil)

	ok, err := c.UploadCohortFromIDs(context.Background(), validRequest())
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got ok=%v err=%v", ok, err)
	}
}

func TestUploadNonCanonicalAppIDStillPosts(t *testing.T) {
	for _, appID := range []AppID{"007", "+5", "-0012"} {
		spy := &spyClient{body: `{"cohort_id": "abc123"}`}
		c := newTestClient(t, spy, nil)
		req := validRequest()
		req.AppID = appID

		ok, err := c.UploadCohortFromIDs(context.Background(), req)
		if !ok || err != nil {
			t.Fatalf("app_id %q: ok=%v err=%v", appID, ok, err)
		}
		if spy.calls() != 1 {
			t.Fatalf("app_id %q: expected one POST, got %d", appID, spy.calls())
		}
		var body map[string]any
		if err := json.Unmarshal(spy.requests[0].Body, &body); err != nil {
			t.Fatalf("app_id %q: decode body: %v", appID, err)
		}
		if body["app_id"] != string(appID) || len(body) != 6 {
			t.Fatalf("app_id %q: unexpected body %v", appID, body)
		}
	}
}

func TestReadBodySnippetKeepsRunes(t *testing.T) {
	body := []byte(strings.Repeat("a", maxLoggedBody-1) + "é tail")
	got := readBodySnippet(body)
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid utf-8")
	}
	if got != strings.Repeat("a", maxLoggedBody-1) {
		t.Fatalf("unexpected snippet length %d", len(got))
	}
	if readBodySnippet([]byte(" ok ")) != "ok" {
		t.Fatalf("short bodies should be returned whole")
	}
}

func TestQuietClientDropsLogs(t *testing.T) {
	log := &recordingLogger{}
	c, err := NewClient(StaticCredentials{}, false, WithHTTPClient(&spyClient{body: "x"}), WithLogger(log))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.FetchCohort(context.Background(), "c1", FetchOptions{})
	if len(log.entries) != 0 {
		t.Fatalf("expected no logs from quiet client, got %+v", log.entries)
	}
}

func TestClientAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "k" || pass != "s" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/3/cohorts":
			_, _ = w.Write([]byte(`{"cohorts":[{"id":"c1"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/3/cohorts/c1":
			if r.URL.Query().Get("props") != "1" || len(r.URL.Query()["propKeys"]) != 2 {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"id":"c1","size":2}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/3/cohorts/upload":
			_, _ = w.Write([]byte(`{"cohort_id":"abc123"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(StaticCredentials{Key: "k", Secret: "s"}, false, WithBaseURL(srv.URL+"/api/3/cohorts/"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	if cohorts, ok := c.ListAllCohorts(ctx); !ok || len(cohorts) != 1 {
		t.Fatalf("ListAllCohorts = %v, %v", cohorts, ok)
	}
	if cohort, ok := c.FetchCohort(ctx, "c1", FetchOptions{IncludeProperties: true, PropertyKeys: []string{"a", "b"}}); !ok || cohort["size"] != float64(2) {
		t.Fatalf("FetchCohort = %v, %v", cohort, ok)
	}
	if ok, err := c.UploadCohortFromIDs(ctx, validRequest()); err != nil || !ok {
		t.Fatalf("UploadCohortFromIDs = %v, %v", ok, err)
	}
}
