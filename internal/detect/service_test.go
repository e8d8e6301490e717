package detect

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/features"
	"fraud-detector/internal/metrics"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/transaction"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const labelledCSV = `trans_date_trans_time,merchant,category,amt,city,state,lat,long,city_pop,job,dob,trans_num,merch_lat,merch_long,is_fraud
2019-01-01 00:00:18,fraud_Rippin,misc_net,4.97,Moravian Falls,NC,36.0788,-81.1781,3495,Psychologist,1988-03-09,t1,36.011293,-82.048315,0
2019-01-01 23:10:00,fraud_Heller,grocery_pos,1500.00,Orient,WA,48.8878,-118.2105,149,Pilot,1978-06-21,t2,49.159047,-118.186462,1
2019-01-02 12:00:00,fraud_Lind,gas_transport,220.11,Malad City,ID,42.1808,-112.262,4154,Nurse,1962-01-19,t3,43.150704,-112.154481,0
2019-01-02 13:00:00,fraud_Kutch,grocery_pos,45.00,Orient,WA,48.8878,-118.2105,149,Pilot,1978-06-21,t4,48.9,-118.1,1
`

// amountScorer reports fraud probability 0.9 for amounts over 1000.
type amountScorer struct{ col int }

func (s amountScorer) Score(_ context.Context, row []float64) (float64, error) {
	if row[s.col] > 1000 {
		return 0.9, nil
	}
	return 0.1, nil
}

// heuristicScorer always answers as if the trained model were down.
type heuristicScorer struct{ amountScorer }

func (s heuristicScorer) ScoreBatch(ctx context.Context, rows [][]float64) ([]float64, error) {
	return ml.ScoreAll(ctx, s.amountScorer, rows)
}

func (s heuristicScorer) ScoreBatchFallback(ctx context.Context, rows [][]float64) ([]float64, bool, error) {
	scores, err := s.ScoreBatch(ctx, rows)
	return scores, true, err
}

type memRuns struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (m *memRuns) StoreRun(r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func readTable(t *testing.T, csv string) *transaction.Table {
	t.Helper()
	table, err := transaction.ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)
	return table
}

type fixture struct {
	svc     *Service
	metrics *metrics.Metrics
	runs    *memRuns
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	wrapper := metrics.NewWrapper(m)
	pipeline := features.NewPipeline(wrapper)

	batch, err := readTable(t, labelledCSV).Batch()
	require.NoError(t, err)
	frame, encoders, err := pipeline.Transform(batch, nil, features.ModeFit)
	require.NoError(t, err)

	runs := &memRuns{}
	svc := NewService(pipeline, wrapper, runs, time.Second)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }

	schema := features.BaseSchema(true)
	require.NoError(t, svc.Register(&Deployment{
		Model: &ml.Model{
			Name:       common.ModelXGBoost,
			Version:    "v1",
			Convention: ml.ConventionProbability,
			Schema:     schema,
			Scorer:     amountScorer{col: schema.Index(common.ColAmount)},
		},
		Encoders: encoders,
		Baseline: ml.NewBaseline(frame),
	}))

	return fixture{svc: svc, metrics: m, runs: runs}
}

func TestDetect_LabelledInput(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Detect(context.Background(), readTable(t, labelledCSV), common.ModelXGBoost)
	require.NoError(t, err)

	assert.False(t, res.Output.Has(common.ColIsFraud))
	assert.Equal(t, common.ColPrediction, res.Output.Header[len(res.Output.Header)-1])
	assert.Equal(t, []string{
		common.LabelNormal, common.LabelFraud, common.LabelNormal, common.LabelNormal,
	}, res.Output.Column(common.ColPrediction))
	assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, res.Output.Column(common.ColTransNum), "input columns kept")

	require.NotNil(t, res.Evaluation)
	assert.Equal(t, 1, res.Evaluation.TruePositives)
	assert.Equal(t, 1, res.Evaluation.FalseNegatives)
	assert.Equal(t, 2, res.Evaluation.TrueNegatives)
	assert.InDelta(t, 0.75, res.Evaluation.Accuracy, 1e-9)

	require.NotNil(t, res.Drift)

	assert.Equal(t, 4, res.Run.Rows)
	assert.Equal(t, 1, res.Run.Frauds)
	assert.InDelta(t, 0.25, res.Run.FraudRate, 1e-9)
	require.NotNil(t, res.Run.Accuracy)
	assert.NotEmpty(t, res.Run.ID)

	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, res.Run.ID, f.runs.runs[0].ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Verdicts.WithLabelValues(common.ModelXGBoost, string(ml.VerdictFraud))))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Verdicts.WithLabelValues(common.ModelXGBoost, string(ml.VerdictNormal))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DetectionRuns))
}

func TestDetect_UnlabelledInput(t *testing.T) {
	f := newFixture(t)
	table := readTable(t, labelledCSV).Without(common.ColIsFraud)

	res, err := f.svc.Detect(context.Background(), table, common.ModelXGBoost)
	require.NoError(t, err)
	assert.Nil(t, res.Evaluation)
	assert.Nil(t, res.Run.Accuracy)
	assert.Len(t, res.Output.Column(common.ColPrediction), 4)
}

func TestDetect_UnseenCategoryFallsBack(t *testing.T) {
	f := newFixture(t)
	csv := strings.Replace(labelledCSV, "misc_net", "crypto_atm", 1)

	res, err := f.svc.Detect(context.Background(), readTable(t, csv), common.ModelXGBoost)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.Fallbacks)

	col, ok := res.Frame.Column(common.ColCategory)
	require.True(t, ok)
	assert.Equal(t, 0.0, col[0], "unseen value takes the first known class")
}

func TestDetect_SchemaMismatch(t *testing.T) {
	f := newFixture(t)
	table := readTable(t, labelledCSV).Without(common.ColDOB)

	_, err := f.svc.Detect(context.Background(), table, common.ModelXGBoost)
	require.ErrorIs(t, err, features.ErrSchemaMismatch)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SchemaMismatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal))
	assert.Empty(t, f.runs.runs)
}

func TestDetect_MissingColumn(t *testing.T) {
	f := newFixture(t)
	table := readTable(t, labelledCSV).Without(common.ColCity)

	_, err := f.svc.Detect(context.Background(), table, common.ModelXGBoost)
	require.ErrorIs(t, err, transaction.ErrMissingColumn)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.SchemaMismatches))
}

func TestDetect_UnknownModel(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Detect(context.Background(), readTable(t, labelledCSV), common.ModelIsolationForest)
	assert.ErrorIs(t, err, ml.ErrUnknownModel)
}

func TestDetect_NotifiesListeners(t *testing.T) {
	f := newFixture(t)

	var got []storage.RunRecord
	f.svc.OnRun(func(r storage.RunRecord) { got = append(got, r) })

	res, err := f.svc.Detect(context.Background(), readTable(t, labelledCSV), common.ModelXGBoost)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, res.Run.ID, got[0].ID)
}

func TestRegister_Invalid(t *testing.T) {
	svc := NewService(features.NewPipeline(nil), nil, nil, 0)

	assert.ErrorIs(t, svc.Register(nil), ml.ErrModelUnavailable)
	assert.ErrorIs(t, svc.Register(&Deployment{Model: &ml.Model{Name: "x"}}), ml.ErrModelUnavailable)

	err := svc.Register(&Deployment{
		Model:    &ml.Model{Name: "x", Schema: features.Schema{"amt"}, Scorer: amountScorer{}},
		Encoders: features.EncoderTable{},
	})
	assert.ErrorIs(t, err, features.ErrMissingEncoder)
	assert.Empty(t, svc.Models())
}

func TestDetect_RecordsFallback(t *testing.T) {
	f := newFixture(t)
	d, err := f.svc.Deployment(common.ModelXGBoost)
	require.NoError(t, err)

	schema := d.Model.Schema
	require.NoError(t, f.svc.Register(&Deployment{
		Model: &ml.Model{
			Name:       common.ModelXGBoost,
			Version:    "v2",
			Convention: ml.ConventionProbability,
			Schema:     schema,
			Scorer:     heuristicScorer{amountScorer{col: schema.Index(common.ColAmount)}},
		},
		Encoders: d.Encoders,
		Baseline: d.Baseline,
	}))

	res, err := f.svc.Detect(context.Background(), readTable(t, labelledCSV), common.ModelXGBoost)
	require.NoError(t, err)
	assert.True(t, res.Run.Fallback)
	require.Len(t, f.runs.runs, 1)
	assert.True(t, f.runs.runs[0].Fallback)

	f2 := newFixture(t)
	res, err = f2.svc.Detect(context.Background(), readTable(t, labelledCSV), common.ModelXGBoost)
	require.NoError(t, err)
	assert.False(t, res.Run.Fallback)
}
