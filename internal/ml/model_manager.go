package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelVersion is one trained model artifact.
type ModelVersion struct {
	Name       string       `json:"name"`
	Version    string       `json:"version"`
	Path       string       `json:"path,omitempty"`
	Convention Convention   `json:"convention"`
	Schema     []string     `json:"schema"`
	CreatedAt  time.Time    `json:"created_at"`
	Metrics    ModelMetrics `json:"metrics"`
	IsActive   bool         `json:"is_active"`
}

// ModelMetrics contains hold-out performance for a model
type ModelMetrics struct {
	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1Score         float64 `json:"f1_score"`
	FraudRate       float64 `json:"fraud_rate"`
	TrainingSamples int     `json:"training_samples"`
}

// ModelManager keeps the versions file of every trained model and which
// version of each is active.
type ModelManager struct {
	mu           sync.RWMutex
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
	now          func() time.Time
}

func NewModelManager(modelsDir string) (*ModelManager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create models directory: %w", err)
	}

	mm := &ModelManager{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, "model_versions.json"),
		versions:     make([]ModelVersion, 0),
		now:          time.Now,
	}

	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}

	return mm, nil
}

// Dir is where model artifacts live.
func (mm *ModelManager) Dir() string {
	return mm.modelsDir
}

// AddVersion records a new version of the named model and returns it. The
// version is not active until ActivateVersion is called.
func (mm *ModelManager) AddVersion(v ModelVersion) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	v.CreatedAt = mm.now()
	v.Version = v.CreatedAt.Format("20060102-150405.000")
	v.IsActive = false

	mm.versions = append(mm.versions, v)
	sort.SliceStable(mm.versions, func(i, j int) bool {
		return mm.versions[i].CreatedAt.After(mm.versions[j].CreatedAt)
	})

	return v, mm.saveVersions()
}

// ActivateVersion makes version the active one for its model name.
func (mm *ModelManager) ActivateVersion(name, version string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.activate(name, version)
}

func (mm *ModelManager) activate(name, version string) error {
	found := false
	for _, v := range mm.versions {
		if v.Name == name && v.Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s version %s not found", ErrUnknownModel, name, version)
	}

	for i := range mm.versions {
		if mm.versions[i].Name == name {
			mm.versions[i].IsActive = mm.versions[i].Version == version
		}
	}

	return mm.saveVersions()
}

// Rollback activates the version trained before the active one.
func (mm *ModelManager) Rollback(name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	history := mm.history(name)
	if len(history) < 2 {
		return fmt.Errorf("no previous version of %s available for rollback", name)
	}

	for i, v := range history {
		if v.IsActive {
			if i+1 < len(history) {
				return mm.activate(name, history[i+1].Version)
			}
			return fmt.Errorf("no previous version of %s available", name)
		}
	}

	return fmt.Errorf("no active version of %s found", name)
}

// Current returns the active version of the named model.
func (mm *ModelManager) Current(name string) (ModelVersion, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	for _, v := range mm.versions {
		if v.Name == name && v.IsActive {
			return v, nil
		}
	}
	return ModelVersion{}, fmt.Errorf("%w: no active version of %s", ErrUnknownModel, name)
}

// ListVersions returns the versions of the named model, newest first. An
// empty name lists every model.
func (mm *ModelManager) ListVersions(name string) []ModelVersion {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if name == "" {
		return append([]ModelVersion(nil), mm.versions...)
	}
	return mm.history(name)
}

func (mm *ModelManager) history(name string) []ModelVersion {
	var out []ModelVersion
	for _, v := range mm.versions {
		if v.Name == name {
			out = append(out, v)
		}
	}
	return out
}

func (mm *ModelManager) loadVersions() error {
	data, err := os.ReadFile(mm.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var versions []ModelVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return err
	}
	mm.versions = versions
	return nil
}

func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(mm.versionsFile, data, 0o600)
}
