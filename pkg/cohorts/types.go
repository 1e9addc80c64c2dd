package cohorts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Credentials exposes the project key pair used for basic auth. The client only reads it.
type Credentials interface {
	APIKey() string
	SecretKey() string
}

// StaticCredentials is a fixed key pair.
type StaticCredentials struct {
	Key    string
	Secret string
}

func (s StaticCredentials) APIKey() string    { return s.Key }
func (s StaticCredentials) SecretKey() string { return s.Secret }

// Cohort is a cohort object as returned by the API. Its shape is owned by the server.
type Cohort map[string]any

// IDType tells the API how to interpret uploaded ids.
type IDType string

const (
	IDTypeAmplitudeID IDType = "BY_AMP_ID"
	IDTypeUserID      IDType = "BY_USER_ID"
)

// Valid reports whether t is one of the accepted id types.
func (t IDType) Valid() bool {
	return t == IDTypeAmplitudeID || t == IDTypeUserID
}

// ErrInvalidUploadRequest is wrapped by every upload validation failure.
var ErrInvalidUploadRequest = errors.New("invalid upload request")

// AppID is the numeric Amplitude project id. Canonical integers ("42", "-7") are encoded as
// JSON numbers; anything else, including "007" or "+5", is sent as a JSON string.
type AppID string

func (a AppID) MarshalJSON() ([]byte, error) {
	s := strings.TrimSpace(string(a))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return []byte(s), nil
	}
	return json.Marshal(string(a))
}

func (a *AppID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*a = AppID(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("app_id must be a string or number: %w", err)
	}
	*a = AppID(s)
	return nil
}

// UploadRequest describes a cohort built from an explicit id list.
type UploadRequest struct {
	Name   string
	AppID  AppID
	IDType IDType
	IDs    []string
	// Owner is the login email of the cohort owner.
	Owner string
	// Published marks the cohort discoverable. Nil means true.
	Published *bool

	publishedNotBool bool
}

// PublishedValue returns the published flag, defaulting to true.
func (r UploadRequest) PublishedValue() bool {
	if r.Published == nil {
		return true
	}
	return *r.Published
}

// Validate applies the upload preconditions in order and returns the first violation.
func (r UploadRequest) Validate() error {
	if r.Name == "" || r.Owner == "" {
		return fmt.Errorf("%w: name and owner must be defined", ErrInvalidUploadRequest)
	}
	if len(r.IDs) == 0 {
		return fmt.Errorf("%w: ids must be defined", ErrInvalidUploadRequest)
	}
	if !r.IDType.Valid() {
		return fmt.Errorf("%w: id_type must be %s or %s", ErrInvalidUploadRequest, IDTypeAmplitudeID, IDTypeUserID)
	}
	if r.publishedNotBool {
		return fmt.Errorf("%w: published must be boolean", ErrInvalidUploadRequest)
	}
	return nil
}

type uploadPayload struct {
	Name      string   `json:"name"`
	AppID     AppID    `json:"app_id"`
	IDType    IDType   `json:"id_type"`
	IDs       []string `json:"ids"`
	Owner     string   `json:"owner"`
	Published bool     `json:"published"`
}

func (r UploadRequest) payload() uploadPayload {
	return uploadPayload{
		Name:      r.Name,
		AppID:     r.AppID,
		IDType:    r.IDType,
		IDs:       r.IDs,
		Owner:     r.Owner,
		Published: r.PublishedValue(),
	}
}

// DecodeUploadRequest parses a JSON upload document using the wire field names.
// A non-boolean "published" is kept and reported by Validate.
func DecodeUploadRequest(data []byte) (UploadRequest, error) {
	var doc struct {
		Name      string          `json:"name"`
		AppID     AppID           `json:"app_id"`
		IDType    IDType          `json:"id_type"`
		IDs       []string        `json:"ids"`
		Owner     string          `json:"owner"`
		Published json.RawMessage `json:"published"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return UploadRequest{}, fmt.Errorf("decode upload request: %w", err)
	}

	req := UploadRequest{
		Name:   doc.Name,
		AppID:  doc.AppID,
		IDType: doc.IDType,
		IDs:    doc.IDs,
		Owner:  doc.Owner,
	}
	if len(doc.Published) > 0 && string(doc.Published) != "null" {
		var published bool
		if err := json.Unmarshal(doc.Published, &published); err != nil {
			req.publishedNotBool = true
		} else {
			req.Published = &published
		}
	}
	return req, nil
}
