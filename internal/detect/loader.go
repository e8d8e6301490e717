package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/features"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"

	"github.com/rs/zerolog/log"
)

// Loader rebuilds deployments from the model registry and the artifact store.
type Loader struct {
	Store            *storage.Store
	Registry         *ml.ModelManager
	Metrics          ml.MetricsInterface
	InferenceTimeout time.Duration
	RemoteTimeout    time.Duration
}

// Load returns the active version of the named model.
func (l *Loader) Load(ctx context.Context, name string) (*Deployment, error) {
	version, err := l.Registry.Current(name)
	if err != nil {
		return nil, err
	}

	model := &ml.Model{
		Name:       version.Name,
		Version:    version.Version,
		Convention: version.Convention,
		Schema:     features.Schema(version.Schema),
	}

	switch name {
	case common.ModelIsolationForest:
		rec, err := l.Store.LoadModel(name, version.Version)
		if err != nil {
			return nil, fmt.Errorf("load %s payload: %w", name, err)
		}
		forest, err := ml.UnmarshalIsolationForest(rec.Payload)
		if err != nil {
			return nil, err
		}
		model.Scorer = forest
	case common.ModelXGBoost:
		model.Scorer = ml.NewClassifier(version.Path, model.Schema, l.Metrics, l.InferenceTimeout)
	default:
		return nil, fmt.Errorf("%w: %s", ml.ErrUnknownModel, name)
	}

	return l.withArtifacts(model)
}

// LoadRemote builds a deployment scored by a model server. The encoders are
// looked up by the served model's name and version.
func (l *Loader) LoadRemote(ctx context.Context, url string) (*Deployment, error) {
	model, err := ml.RemoteModel(ctx, url, l.RemoteTimeout)
	if err != nil {
		return nil, fmt.Errorf("remote model at %s: %w", url, err)
	}
	return l.withArtifacts(model)
}

func (l *Loader) withArtifacts(model *ml.Model) (*Deployment, error) {
	encoders, err := l.Store.LoadEncoders(model.Name, model.Version)
	if err != nil {
		return nil, fmt.Errorf("load encoders for %s@%s: %w", model.Name, model.Version, err)
	}

	d := &Deployment{Model: model, Encoders: encoders}

	baseline, err := l.Store.LoadBaseline(model.Name, model.Version)
	switch {
	case err == nil:
		d.Baseline = baseline
	case errors.Is(err, storage.ErrNotFound):
		log.Debug().Str("model", model.Name).Msg("no training baseline, drift checks disabled")
	default:
		return nil, err
	}

	return d, nil
}

// LoadAll registers every model with an active version. Models without one
// are skipped.
func (l *Loader) LoadAll(ctx context.Context, svc *Service, remoteURL string) error {
	if remoteURL != "" {
		d, err := l.LoadRemote(ctx, remoteURL)
		if err != nil {
			return err
		}
		return svc.Register(d)
	}

	loaded := 0
	for _, name := range []string{common.ModelIsolationForest, common.ModelXGBoost} {
		d, err := l.Load(ctx, name)
		if errors.Is(err, ml.ErrUnknownModel) {
			log.Debug().Str("model", name).Msg("no active version")
			continue
		}
		if err != nil {
			return err
		}
		if err := svc.Register(d); err != nil {
			return err
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("%w: no trained model found in %s", ml.ErrModelUnavailable, l.Registry.Dir())
	}
	return nil
}
