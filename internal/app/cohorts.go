package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samvad-hq/amplitude-cohorts/internal/config"
	"github.com/samvad-hq/amplitude-cohorts/internal/logger"
	"github.com/samvad-hq/amplitude-cohorts/internal/projects"
	"github.com/samvad-hq/amplitude-cohorts/internal/secrets"
	"github.com/samvad-hq/amplitude-cohorts/internal/storage"
	"github.com/samvad-hq/amplitude-cohorts/pkg/cohorts"
	"github.com/samvad-hq/amplitude-cohorts/pkg/httpclient"
	"github.com/samvad-hq/amplitude-cohorts/pkg/publishers"
)

// ErrDuplicateUpload is returned when an identical upload was accepted within the journal TTL.
var ErrDuplicateUpload = errors.New("identical cohort upload already accepted")

// Deps are the collaborators of App. Nil fields get inert defaults, except Journal which
// is opened from config on the first upload.
type Deps struct {
	Projects *projects.Registry
	Journal  storage.Journal
	Fanout   *publishers.Fanout
	HTTP     httpclient.Client
	Log      logger.Logger
}

// App runs cohort operations against a configured set of projects.
type App struct {
	cfg      *config.Config
	projects *projects.Registry
	fanout   *publishers.Fanout
	http     httpclient.Client
	log      logger.Logger
	now      func() time.Time

	// journal is nil until the first upload; reads never touch it.
	journalMu sync.Mutex
	journal   storage.Journal
}

// UploadResult describes a completed upload call.
type UploadResult struct {
	Project     string `json:"project"`
	Created     bool   `json:"created"`
	Fingerprint string `json:"fingerprint"`
	Notified    int    `json:"notified"`
}

// New builds an App from configuration files and the environment.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}

	reg, err := loadProjects(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.InfoObj("projects loaded", "projects", reg.All())

	fanout, err := loadPublishers(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return NewWithDeps(cfg, Deps{
		Projects: reg,
		Fanout:   fanout,
		HTTP:     httpclient.NewRestyClient(cfg.HTTPTimeout),
		Log:      log,
	})
}

// NewWithDeps builds an App from explicit collaborators.
func NewWithDeps(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if deps.Projects == nil {
		return nil, fmt.Errorf("projects registry must not be nil")
	}
	if deps.Fanout == nil {
		deps.Fanout = publishers.NewFanout(nil)
	}
	if deps.HTTP == nil {
		deps.HTTP = httpclient.NewRestyClient(cfg.HTTPTimeout)
	}
	if deps.Log == nil {
		deps.Log = &logger.NopLogger{}
	}

	return &App{
		cfg:      cfg,
		projects: deps.Projects,
		journal:  deps.Journal,
		fanout:   deps.Fanout,
		http:     deps.HTTP,
		log:      deps.Log,
		now:      time.Now,
	}, nil
}

func loadProjects(ctx context.Context, cfg *config.Config) (*projects.Registry, error) {
	if strings.TrimSpace(cfg.ProjectsFile) == "" {
		reg, err := projects.FromEnv(cfg.AmplitudeAPIKey, cfg.AmplitudeSecretKey, cfg.AmplitudeAppID)
		if err != nil {
			return nil, fmt.Errorf("load projects from env: %w", err)
		}
		return reg, nil
	}

	reg, err := projects.LoadRegistry(cfg.ProjectsFile)
	if err != nil {
		return nil, fmt.Errorf("load projects registry: %w", err)
	}
	if reg.NeedsSecrets() {
		provider, err := secrets.NewAWSProvider(ctx, cfg.SecretsRegion)
		if err != nil {
			return nil, fmt.Errorf("init secrets provider: %w", err)
		}
		if err := reg.ResolveSecrets(ctx, provider); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func loadPublishers(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if strings.TrimSpace(cfg.PublishersFile) == "" {
		return publishers.NewFanout(nil), nil
	}

	reg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := reg.Enabled()
	pubs, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	log.InfoObj("publishers registry loaded", "publishers", enabled)
	return publishers.NewFanout(pubs), nil
}

// Client returns a cohorts client bound to the named project.
func (a *App) Client(name string) (*cohorts.Client, projects.Project, error) {
	project, ok := a.projects.ByName(name)
	if !ok {
		return nil, projects.Project{}, fmt.Errorf("unknown project %q", name)
	}
	client, err := cohorts.NewClient(project, a.cfg.Verbose,
		cohorts.WithBaseURL(a.cfg.CohortsBaseURL),
		cohorts.WithHTTPClient(a.http),
		cohorts.WithLogger(a.log),
	)
	if err != nil {
		return nil, projects.Project{}, fmt.Errorf("build cohorts client: %w", err)
	}
	return client, project, nil
}

// Get fetches one cohort. ok=false means the cohort state could not be determined.
func (a *App) Get(ctx context.Context, project, cohortID string, opts cohorts.FetchOptions) (cohorts.Cohort, bool, error) {
	client, _, err := a.Client(project)
	if err != nil {
		return nil, false, err
	}
	cohort, ok := client.FetchCohort(ctx, cohortID, opts)
	return cohort, ok, nil
}

// List returns every cohort of the project.
func (a *App) List(ctx context.Context, project string) ([]cohorts.Cohort, bool, error) {
	client, _, err := a.Client(project)
	if err != nil {
		return nil, false, err
	}
	list, ok := client.ListAllCohorts(ctx)
	return list, ok, nil
}

// Upload creates a cohort, guarding against re-posting an upload the API already accepted
// unless force is set. The request inherits the project's app id when it has none.
func (a *App) Upload(ctx context.Context, project string, req cohorts.UploadRequest, force bool) (UploadResult, error) {
	client, p, err := a.Client(project)
	if err != nil {
		return UploadResult{}, err
	}
	if strings.TrimSpace(string(req.AppID)) == "" {
		req.AppID = p.AppID
	}
	journal, err := a.uploadJournal()
	if err != nil {
		return UploadResult{Project: p.Name}, err
	}

	result := UploadResult{Project: p.Name, Fingerprint: Fingerprint(p.Name, req)}

	if !force {
		seen, err := journal.SeenUpload(result.Fingerprint)
		if err != nil {
			return result, fmt.Errorf("check upload journal: %w", err)
		}
		if seen {
			a.log.WarnObj("duplicate cohort upload skipped", "cohort_upload", map[string]any{
				"project":     p.Name,
				"name":        req.Name,
				"fingerprint": result.Fingerprint,
			})
			return result, ErrDuplicateUpload
		}
	}

	created, err := client.UploadCohortFromIDs(ctx, req)
	if err != nil {
		return result, err
	}
	result.Created = created

	if created {
		if err := journal.MarkUpload(result.Fingerprint); err != nil {
			a.log.WarnObj("upload journal write failed", "cohort_upload", map[string]any{
				"fingerprint": result.Fingerprint,
				"error":       err.Error(),
			})
		}
	}

	n, err := a.fanout.Publish(ctx, publishers.Event{
		Project:    p.Name,
		AppID:      string(req.AppID),
		CohortName: req.Name,
		Owner:      req.Owner,
		IDType:     string(req.IDType),
		IDCount:    len(req.IDs),
		Published:  req.PublishedValue(),
		Accepted:   created,
		OccurredAt: a.now().UTC(),
	})
	result.Notified = n
	if err != nil {
		a.log.WarnObj("upload notification failed", "cohort_upload", map[string]any{
			"project": p.Name,
			"error":   err.Error(),
		})
	}
	return result, nil
}

func (a *App) uploadJournal() (storage.Journal, error) {
	a.journalMu.Lock()
	defer a.journalMu.Unlock()
	if a.journal != nil {
		return a.journal, nil
	}
	journal, err := storage.NewJournal(a.cfg.JournalType, a.cfg.JournalPath, storage.Options{
		UploadTTL:       a.cfg.JournalTTL,
		CleanupInterval: a.cfg.JournalCleanupInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open upload journal: %w", err)
	}
	a.journal = journal
	return journal, nil
}

// Close releases the journal, if one was opened, and publisher resources.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.journalMu.Lock()
	var journalErr error
	if a.journal != nil {
		journalErr = a.journal.Close()
		a.journal = nil
	}
	a.journalMu.Unlock()
	return errors.Join(journalErr, a.fanout.Close())
}

// Fingerprint identifies an upload by everything that reaches the API. Id order is ignored.
func Fingerprint(project string, req cohorts.UploadRequest) string {
	ids := make([]string, len(req.IDs))
	copy(ids, req.IDs)
	sort.Strings(ids)

	h := sha256.New()
	for _, part := range []string{
		project,
		strings.TrimSpace(string(req.AppID)),
		req.Name,
		req.Owner,
		string(req.IDType),
		strconv.FormatBool(req.PublishedValue()),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
