package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samvad-hq/amplitude-cohorts/internal/secrets"
	"github.com/samvad-hq/amplitude-cohorts/pkg/cohorts"
	"gopkg.in/yaml.v3"
)

// DefaultName is the project built from environment credentials.
const DefaultName = "default"

const (
	secretAPIKeyField    = "api_key"
	secretSecretKeyField = "secret_key"
)

// configFile represents the structure of the projects configuration file.
type configFile struct {
	Projects []projectEntry `json:"projects" yaml:"projects"`
}

type projectEntry struct {
	Name      string        `json:"name" yaml:"name"`
	AppID     cohorts.AppID `json:"app_id" yaml:"app_id"`
	APIKey    string        `json:"api_key" yaml:"api_key"`
	SecretKey string        `json:"secret_key" yaml:"secret_key"`
	SecretID  string        `json:"secret_id" yaml:"secret_id"`
}

// Project is one Amplitude project and its key pair. Keys never leave the process via
// serialisation.
type Project struct {
	Name     string        `json:"name"`
	AppID    cohorts.AppID `json:"app_id"`
	SecretID string        `json:"secret_id,omitempty"`

	apiKey    string
	secretKey string
}

// NewProject builds a project from explicit values.
func NewProject(name string, appID cohorts.AppID, apiKey, secretKey string) Project {
	return Project{Name: name, AppID: appID, apiKey: apiKey, secretKey: secretKey}
}

func (p Project) APIKey() string    { return p.apiKey }
func (p Project) SecretKey() string { return p.secretKey }

// HasKeys reports whether both keys are present.
func (p Project) HasKeys() bool { return p.apiKey != "" && p.secretKey != "" }

// Registry holds the configured projects in file order.
type Registry struct {
	mu       sync.RWMutex
	projects []Project
	idx      map[string]int
}

// LoadRegistry loads projects from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("projects file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open projects file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read projects file: %w", err)
	}

	parsed, err := parseProjects(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(parsed.Projects) == 0 {
		return nil, errors.New("projects file contains no projects entries")
	}

	out := make([]Project, 0, len(parsed.Projects))
	for i, entry := range parsed.Projects {
		p := Project{
			Name:      strings.TrimSpace(entry.Name),
			AppID:     cohorts.AppID(strings.TrimSpace(string(entry.AppID))),
			SecretID:  strings.TrimSpace(entry.SecretID),
			apiKey:    strings.TrimSpace(entry.APIKey),
			secretKey: strings.TrimSpace(entry.SecretKey),
		}
		if err := validateProject(p); err != nil {
			return nil, fmt.Errorf("projects[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return NewRegistry(out...)
}

// NewRegistry builds a registry from already constructed projects.
func NewRegistry(projects ...Project) (*Registry, error) {
	reg := &Registry{
		projects: make([]Project, 0, len(projects)),
		idx:      make(map[string]int, len(projects)),
	}
	for _, p := range projects {
		if p.Name == "" {
			return nil, errors.New("project name is required")
		}
		if _, exists := reg.idx[p.Name]; exists {
			return nil, fmt.Errorf("duplicate project name %q", p.Name)
		}
		reg.idx[p.Name] = len(reg.projects)
		reg.projects = append(reg.projects, p)
	}
	return reg, nil
}

// FromEnv builds a single-project registry from environment credentials.
func FromEnv(apiKey, secretKey, appID string) (*Registry, error) {
	p := NewProject(DefaultName, cohorts.AppID(strings.TrimSpace(appID)), strings.TrimSpace(apiKey), strings.TrimSpace(secretKey))
	if !p.HasKeys() {
		return nil, errors.New("amplitude_api_key and amplitude_secret_key are required when no projects file is set")
	}
	return NewRegistry(p)
}

// parseProjects attempts to decode the projects file content.
func parseProjects(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var cfg configFile
		if err := d.fn(data, &cfg); err == nil {
			return cfg, nil
		}
	}
	return configFile{}, errors.New("projects file format not recognized (expected YAML or JSON)")
}

func validateProject(p Project) error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.SecretID == "" && !p.HasKeys() {
		return fmt.Errorf("api_key and secret_key (or secret_id) are required for project %q", p.Name)
	}
	return nil
}

// ByName returns the named project. An empty name selects the first project.
func (r *Registry) ByName(name string) (Project, bool) {
	if r == nil {
		return Project{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name = strings.TrimSpace(name)
	if name == "" {
		if len(r.projects) == 0 {
			return Project{}, false
		}
		return r.projects[0], true
	}
	i, ok := r.idx[name]
	if !ok {
		return Project{}, false
	}
	return r.projects[i], true
}

// All returns all configured projects.
func (r *Registry) All() []Project {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Project, len(r.projects))
	copy(out, r.projects)
	return out
}

// ResolveSecrets fills keys for projects that reference a secret instead of inline keys.
func (r *Registry) ResolveSecrets(ctx context.Context, provider secrets.Provider) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.projects {
		p := &r.projects[i]
		if p.SecretID == "" || p.HasKeys() {
			continue
		}
		if provider == nil {
			return fmt.Errorf("project %q references secret %q but no secrets provider is configured", p.Name, p.SecretID)
		}
		values, err := provider.GetSecret(ctx, p.SecretID)
		if err != nil {
			return fmt.Errorf("resolve project %q: %w", p.Name, err)
		}
		p.apiKey = strings.TrimSpace(values[secretAPIKeyField])
		p.secretKey = strings.TrimSpace(values[secretSecretKeyField])
		if !p.HasKeys() {
			return fmt.Errorf("secret %q for project %q lacks %s or %s", p.SecretID, p.Name, secretAPIKeyField, secretSecretKeyField)
		}
	}
	return nil
}

// NeedsSecrets reports whether any project still waits on a secret lookup.
func (r *Registry) NeedsSecrets() bool {
	for _, p := range r.All() {
		if p.SecretID != "" && !p.HasKeys() {
			return true
		}
	}
	return false
}
