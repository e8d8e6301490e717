package train

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/features"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/synth"
	"fraud-detector/internal/transaction"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	trainer  *Trainer
	store    *storage.Store
	registry *ml.ModelManager
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := ml.NewModelManager(filepath.Join(t.TempDir(), "models"))
	require.NoError(t, err)

	wrapper := metrics.NewWrapper(metrics.NewWithRegistry(prometheus.NewRegistry()))

	cfg := DefaultConfig()
	cfg.Forest.NumTrees = 50
	cfg.Forest.SampleSize = 64
	cfg.Forest.Contamination = 0.05

	return fixture{
		trainer:  NewTrainer(features.NewPipeline(wrapper), store, registry, wrapper, cfg),
		store:    store,
		registry: registry,
	}
}

func synthTable(n int) *transaction.Table {
	g := synth.NewGenerator(7, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	g.FraudRate = 0.1
	return synth.Table(g.Records(n))
}

func TestTrainIsolationForest(t *testing.T) {
	f := newFixture(t)
	table := synthTable(300)

	res, err := f.trainer.TrainIsolationForest(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, common.ModelIsolationForest, res.Model.Name)
	assert.Equal(t, ml.ConventionAnomalyScore, res.Model.Convention)
	assert.Equal(t, features.BaseSchema(true), res.Model.Schema)
	assert.True(t, res.Version.IsActive)
	assert.Equal(t, res.Version.Version, res.Model.Version)

	require.NotNil(t, res.Evaluation)
	assert.Equal(t, 300, res.Evaluation.Total)
	assert.Equal(t, 300, res.Version.Metrics.TrainingSamples)

	cur, err := f.registry.Current(common.ModelIsolationForest)
	require.NoError(t, err)
	assert.Equal(t, res.Version.Version, cur.Version)
	assert.Equal(t, []string(res.Model.Schema), cur.Schema)

	rec, err := f.store.LoadModel(common.ModelIsolationForest, cur.Version)
	require.NoError(t, err)
	forest, err := ml.UnmarshalIsolationForest(rec.Payload)
	require.NoError(t, err)
	assert.Len(t, forest.Trees, 50)

	encoders, err := f.store.LoadEncoders(common.ModelIsolationForest, cur.Version)
	require.NoError(t, err)
	assert.Equal(t, res.Encoders[common.ColCategory].Classes(), encoders[common.ColCategory].Classes())

	baseline, err := f.store.LoadBaseline(common.ModelIsolationForest, cur.Version)
	require.NoError(t, err)
	assert.NotNil(t, baseline)
}

func TestTrainIsolationForest_Unlabelled(t *testing.T) {
	f := newFixture(t)
	table := synthTable(120).Without(common.ColIsFraud)

	res, err := f.trainer.TrainIsolationForest(context.Background(), table)
	require.NoError(t, err)
	assert.Nil(t, res.Evaluation)
	assert.Equal(t, 120, res.Version.Metrics.TrainingSamples)
}

func TestTrainIsolationForest_MissingColumn(t *testing.T) {
	f := newFixture(t)
	table := synthTable(50).Without(common.ColAmount)

	_, err := f.trainer.TrainIsolationForest(context.Background(), table)
	assert.ErrorIs(t, err, transaction.ErrMissingColumn)

	_, err = f.registry.Current(common.ModelIsolationForest)
	assert.ErrorIs(t, err, ml.ErrUnknownModel, "nothing registered on failure")
}

func TestTrainClassifier_RequiresLabels(t *testing.T) {
	f := newFixture(t)
	table := synthTable(50).Without(common.ColIsFraud)

	_, err := f.trainer.TrainClassifier(context.Background(), table)
	assert.ErrorIs(t, err, transaction.ErrMissingColumn)
}

func TestTrain_UnknownModel(t *testing.T) {
	f := newFixture(t)

	_, err := f.trainer.Train(context.Background(), synthTable(10), "random_forest")
	assert.ErrorIs(t, err, ml.ErrUnknownModel)
}

func TestWriteTrainingCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	schema := features.Schema{"amt", "hour"}

	err := writeTrainingCSV(path, schema, [][]float64{{12.5, 3}, {900, 23}}, []bool{false, true})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "amt,hour,is_fraud\n12.5,3,0\n900,23,1\n", string(data))
}

func TestScalePosWeight(t *testing.T) {
	assert.Equal(t, 1.0, scalePosWeight([]bool{false, false}))
	assert.Equal(t, 3.0, scalePosWeight([]bool{true, false, false, false}))
	assert.Equal(t, 1.0, scalePosWeight([]bool{true, false}))
}
