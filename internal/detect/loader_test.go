package detect

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/features"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/synth"
	"fraud-detector/internal/train"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loaderFixture struct {
	loader  *Loader
	trainer *train.Trainer
	svc     *Service
}

func newLoaderFixture(t *testing.T) loaderFixture {
	t.Helper()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := ml.NewModelManager(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)

	wrapper := metrics.NewWrapper(metrics.NewWithRegistry(prometheus.NewRegistry()))
	pipeline := features.NewPipeline(wrapper)

	cfg := train.DefaultConfig()
	cfg.Forest.NumTrees = 30
	cfg.Forest.SampleSize = 64

	return loaderFixture{
		loader: &Loader{
			Store:            store,
			Registry:         registry,
			Metrics:          wrapper,
			InferenceTimeout: 5 * time.Second,
			RemoteTimeout:    time.Second,
		},
		trainer: train.NewTrainer(pipeline, store, registry, wrapper, cfg),
		svc:     NewService(pipeline, wrapper, store, 5*time.Second),
	}
}

func TestLoader_LoadAfterTraining(t *testing.T) {
	f := newLoaderFixture(t)
	ctx := context.Background()

	gen := synth.NewGenerator(11, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	table := synth.Table(gen.Records(200))

	trained, err := f.trainer.TrainIsolationForest(ctx, table)
	require.NoError(t, err)

	d, err := f.loader.Load(ctx, common.ModelIsolationForest)
	require.NoError(t, err)
	assert.Equal(t, trained.Version.Version, d.Model.Version)
	assert.Equal(t, ml.ConventionAnomalyScore, d.Model.Convention)
	assert.Equal(t, trained.Model.Schema, d.Model.Schema)
	assert.NotNil(t, d.Baseline)

	require.NoError(t, f.svc.Register(d))

	fresh := synth.Table(gen.Records(50))
	res, err := f.svc.Detect(ctx, fresh, common.ModelIsolationForest)
	require.NoError(t, err)
	assert.Len(t, res.Output.Column(common.ColPrediction), 50)

	// same scores as the in-memory model that was trained
	batch, err := fresh.Batch()
	require.NoError(t, err)
	frame, _, err := features.NewPipeline(nil).Transform(batch, trained.Encoders, features.ModeApply)
	require.NoError(t, err)
	want, err := trained.Model.Predict(ctx, frame)
	require.NoError(t, err)
	assert.Equal(t, want.Scores, res.Prediction.Scores)
}

func TestLoader_LoadWithoutTraining(t *testing.T) {
	f := newLoaderFixture(t)

	_, err := f.loader.Load(context.Background(), common.ModelIsolationForest)
	assert.ErrorIs(t, err, ml.ErrUnknownModel)

	err = f.loader.LoadAll(context.Background(), f.svc, "")
	assert.ErrorIs(t, err, ml.ErrModelUnavailable)
}

func TestLoader_LoadAllSkipsUntrained(t *testing.T) {
	f := newLoaderFixture(t)
	ctx := context.Background()

	gen := synth.NewGenerator(3, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err := f.trainer.TrainIsolationForest(ctx, synth.Table(gen.Records(100)))
	require.NoError(t, err)

	require.NoError(t, f.loader.LoadAll(ctx, f.svc, ""))
	assert.Equal(t, []string{common.ModelIsolationForest}, f.svc.Models())
}

func TestLoader_LoadRemote(t *testing.T) {
	f := newLoaderFixture(t)
	ctx := context.Background()

	gen := synth.NewGenerator(5, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	trained, err := f.trainer.TrainIsolationForest(ctx, synth.Table(gen.Records(100)))
	require.NoError(t, err)

	srv := httptest.NewServer(ml.NewModelServer(trained.Model, 0, time.Second).Router())
	defer srv.Close()

	d, err := f.loader.LoadRemote(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, trained.Version.Version, d.Model.Version)
	assert.Equal(t, ml.ConventionAnomalyScore, d.Model.Convention)

	require.NoError(t, f.svc.Register(d))
	res, err := f.svc.Detect(ctx, synth.Table(gen.Records(20)), common.ModelIsolationForest)
	require.NoError(t, err)
	assert.Len(t, res.Prediction.Verdicts, 20)
}
