package repository

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	apperrors "github.com/pushgate/webhooks/internal/errors"
	"github.com/pushgate/webhooks/internal/models"
)

// ErrDuplicateApp is returned when two apps in a file share an id or key.
var ErrDuplicateApp = errors.New("duplicate app")

type appsFile struct {
	Apps []models.App `yaml:"apps"`
}

// FileApps is an immutable in-memory registry, loaded once from YAML.
type FileApps struct {
	byKey map[string]*models.App
	byID  map[string]*models.App
}

// LoadFileApps reads and validates path.
func LoadFileApps(path string) (*FileApps, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read apps file: %w", err)
	}

	return ParseFileApps(data)
}

// ParseFileApps builds a registry from YAML with a top-level apps list.
func ParseFileApps(data []byte) (*FileApps, error) {
	var f appsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse apps file: %w", err)
	}

	return NewFileApps(f.Apps)
}

// NewFileApps validates apps and indexes them by key and id.
func NewFileApps(apps []models.App) (*FileApps, error) {
	r := &FileApps{
		byKey: make(map[string]*models.App, len(apps)),
		byID:  make(map[string]*models.App, len(apps)),
	}

	for i := range apps {
		app := &apps[i]
		if err := app.Validate(); err != nil {
			return nil, err
		}

		if _, ok := r.byID[app.ID]; ok {
			return nil, fmt.Errorf("%w: id %s", ErrDuplicateApp, app.ID)
		}

		if _, ok := r.byKey[app.Key]; ok {
			return nil, fmt.Errorf("%w: key %s", ErrDuplicateApp, app.Key)
		}

		r.byID[app.ID] = app
		r.byKey[app.Key] = app
	}

	return r, nil
}

// FindByKey returns the enabled app with key.
func (r *FileApps) FindByKey(_ context.Context, key string) (*models.App, error) {
	return enabledOrNotFound(r.byKey[key])
}

// FindByID returns the enabled app with id.
func (r *FileApps) FindByID(_ context.Context, id string) (*models.App, error) {
	return enabledOrNotFound(r.byID[id])
}

// Len returns the number of apps, disabled ones included.
func (r *FileApps) Len() int {
	return len(r.byID)
}

func enabledOrNotFound(app *models.App) (*models.App, error) {
	if app == nil {
		return nil, apperrors.NewNotFoundError("app", "app not found")
	}

	if !app.IsEnabled() {
		return nil, apperrors.NewNotFoundError("app", "app is disabled")
	}

	return app, nil
}
