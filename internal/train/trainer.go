// Package train fits models and their encoders from a labelled transaction
// table and records the result in the model registry and artifact store.
package train

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fraud-detector/internal/common"
	"fraud-detector/internal/evaluation"
	"fraud-detector/internal/features"
	"fraud-detector/internal/ml"
	"fraud-detector/internal/storage"
	"fraud-detector/internal/transaction"

	"github.com/rs/zerolog/log"
)

// Config controls training.
type Config struct {
	Forest           ml.IForestConfig
	Classifier       ml.ClassifierParams
	TestFraction     float64
	SMOTENeighbors   int
	Seed             int64
	InferenceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Forest:           ml.DefaultIForestConfig(),
		Classifier:       ml.DefaultClassifierParams(),
		TestFraction:     0.2,
		SMOTENeighbors:   5,
		Seed:             common.DefaultRandomSeed,
		InferenceTimeout: 30 * time.Second,
	}
}

// Result is a trained, stored and activated model.
type Result struct {
	Version  ml.ModelVersion
	Model    *ml.Model
	Encoders features.EncoderTable
	Baseline *ml.Baseline
	// Evaluation is on the training data for the isolation forest and on the
	// held-out split for the classifier. Nil when the table has no labels.
	Evaluation *evaluation.Results
}

type Trainer struct {
	pipeline *features.Pipeline
	store    *storage.Store
	registry *ml.ModelManager
	metrics  ml.MetricsInterface
	cfg      Config
}

func NewTrainer(pipeline *features.Pipeline, store *storage.Store, registry *ml.ModelManager, metrics ml.MetricsInterface, cfg Config) *Trainer {
	return &Trainer{
		pipeline: pipeline,
		store:    store,
		registry: registry,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Train dispatches on the model name.
func (t *Trainer) Train(ctx context.Context, table *transaction.Table, model string) (*Result, error) {
	switch model {
	case common.ModelIsolationForest:
		return t.TrainIsolationForest(ctx, table)
	case common.ModelXGBoost:
		return t.TrainClassifier(ctx, table)
	default:
		return nil, fmt.Errorf("%w: %s", ml.ErrUnknownModel, model)
	}
}

func (t *Trainer) fit(table *transaction.Table) (*transaction.Batch, *features.Frame, features.EncoderTable, error) {
	batch, err := table.Batch()
	if err != nil {
		return nil, nil, nil, err
	}
	frame, encoders, err := t.pipeline.Transform(batch, nil, features.ModeFit)
	if err != nil {
		return nil, nil, nil, err
	}
	return batch, frame, encoders, nil
}

// TrainIsolationForest fits the outlier detector on every row. Labels, if
// present, are only used to report how the fitted model does on its own
// training data.
func (t *Trainer) TrainIsolationForest(ctx context.Context, table *transaction.Table) (*Result, error) {
	batch, frame, encoders, err := t.fit(table)
	if err != nil {
		return nil, err
	}

	forest, err := ml.FitIsolationForest(frame.Matrix(), t.cfg.Forest)
	if err != nil {
		return nil, err
	}

	model := &ml.Model{
		Name:       common.ModelIsolationForest,
		Convention: ml.ConventionAnomalyScore,
		Schema:     frame.Schema,
		Scorer:     forest,
	}

	var eval *evaluation.Results
	if batch.HasLabels {
		pred, err := model.Predict(ctx, frame)
		if err != nil {
			return nil, err
		}
		outcomes, err := evaluation.Outcomes(batch, pred)
		if err != nil {
			return nil, err
		}
		eval = evaluation.Evaluate(model.Name, outcomes)
	}

	payload, err := forest.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to serialise isolation forest: %w", err)
	}

	return t.publish(model, "", payload, encoders, ml.NewBaseline(frame), eval, len(frame.Rows))
}

// TrainClassifier holds out a stratified test split, balances the training
// split with SMOTE and fits the external gradient boosted classifier.
func (t *Trainer) TrainClassifier(ctx context.Context, table *transaction.Table) (*Result, error) {
	batch, frame, encoders, err := t.fit(table)
	if err != nil {
		return nil, err
	}
	if !batch.HasLabels {
		return nil, fmt.Errorf("%w: classifier training needs the %s column", transaction.ErrMissingColumn, common.ColIsFraud)
	}

	labels := batch.Labels()
	split, err := StratifiedSplit(labels, t.cfg.TestFraction, t.cfg.Seed)
	if err != nil {
		return nil, err
	}

	rows := frame.Matrix()
	trainRows, trainLabels := pick(rows, labels, split.Train)
	balancedRows, balancedLabels, err := SMOTE(trainRows, trainLabels, t.cfg.SMOTENeighbors, t.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("oversampling failed: %w", err)
	}

	params := t.cfg.Classifier
	params.ScalePosWeight = scalePosWeight(balancedLabels)

	stamp := time.Now().UTC().Format("20060102-150405")
	trainCSV := filepath.Join(t.registry.Dir(), fmt.Sprintf("%s_train_%s.csv", common.ModelXGBoost, stamp))
	modelPath := filepath.Join(t.registry.Dir(), fmt.Sprintf("%s_%s.joblib", common.ModelXGBoost, stamp))

	if err := writeTrainingCSV(trainCSV, frame.Schema, balancedRows, balancedLabels); err != nil {
		return nil, err
	}
	defer os.Remove(trainCSV)

	log.Info().
		Int("train_rows", len(trainRows)).
		Int("balanced_rows", len(balancedRows)).
		Int("test_rows", len(split.Test)).
		Msg("classifier training set prepared")

	if err := ml.FitClassifier(ctx, trainCSV, modelPath, params); err != nil {
		return nil, err
	}

	classifier := ml.NewClassifier(modelPath, frame.Schema, t.metrics, t.cfg.InferenceTimeout)
	if !classifier.Available() {
		return nil, fmt.Errorf("%w: trained classifier at %s cannot be loaded", ml.ErrModelUnavailable, modelPath)
	}

	model := &ml.Model{
		Name:       common.ModelXGBoost,
		Convention: ml.ConventionProbability,
		Schema:     frame.Schema,
		Scorer:     classifier,
	}

	testFrame := &features.Frame{Schema: frame.Schema}
	testBatch := &transaction.Batch{HasDOB: batch.HasDOB, HasLabels: true}
	for _, i := range split.Test {
		testFrame.Rows = append(testFrame.Rows, frame.Rows[i])
		testBatch.Records = append(testBatch.Records, batch.Records[i])
	}

	pred, err := model.Predict(ctx, testFrame)
	if err != nil {
		return nil, err
	}
	outcomes, err := evaluation.Outcomes(testBatch, pred)
	if err != nil {
		return nil, err
	}
	eval := evaluation.Evaluate(model.Name, outcomes)

	return t.publish(model, modelPath, nil, encoders, ml.NewBaseline(frame), eval, len(balancedRows))
}

// publish registers a new version, stores its artifacts and activates it.
// A version whose artifacts fail to store stays inactive.
func (t *Trainer) publish(model *ml.Model, path string, payload []byte, encoders features.EncoderTable,
	baseline *ml.Baseline, eval *evaluation.Results, samples int) (*Result, error) {

	mv := ml.ModelVersion{
		Name:       model.Name,
		Path:       path,
		Convention: model.Convention,
		Schema:     model.Schema,
	}
	if eval != nil {
		mv.Metrics = eval.ModelMetrics(samples)
	} else {
		mv.Metrics.TrainingSamples = samples
	}

	mv, err := t.registry.AddVersion(mv)
	if err != nil {
		return nil, fmt.Errorf("failed to record model version: %w", err)
	}
	model.Version = mv.Version
	if eval != nil {
		eval.Version = mv.Version
	}

	rec := storage.ModelRecord{
		Name:       model.Name,
		Version:    mv.Version,
		Convention: model.Convention,
		Schema:     model.Schema,
		CreatedAt:  mv.CreatedAt,
		Payload:    payload,
	}
	if err := t.store.SaveModel(rec); err != nil {
		return nil, err
	}
	if err := t.store.SaveEncoders(model.Name, mv.Version, encoders); err != nil {
		return nil, err
	}
	if err := t.store.SaveBaseline(model.Name, mv.Version, baseline); err != nil {
		return nil, err
	}
	if err := t.registry.ActivateVersion(model.Name, mv.Version); err != nil {
		return nil, err
	}
	mv.IsActive = true

	ev := log.Info().
		Str("model", model.Name).
		Str("version", mv.Version).
		Int("samples", samples)
	if eval != nil {
		ev = ev.Float64("accuracy", eval.Accuracy).
			Float64("precision", eval.Precision).
			Float64("recall", eval.Recall).
			Float64("f1", eval.F1Score)
	}
	ev.Msg("model trained and activated")

	return &Result{
		Version:    mv,
		Model:      model,
		Encoders:   encoders,
		Baseline:   baseline,
		Evaluation: eval,
	}, nil
}

func pick(rows [][]float64, labels []bool, idx []int) ([][]float64, []bool) {
	outRows := make([][]float64, len(idx))
	outLabels := make([]bool, len(idx))
	for j, i := range idx {
		outRows[j] = rows[i]
		outLabels[j] = labels[i]
	}
	return outRows, outLabels
}

// scalePosWeight is negatives over positives, 1 when there are no positives.
func scalePosWeight(labels []bool) float64 {
	var pos, neg int
	for _, l := range labels {
		if l {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 {
		return 1
	}
	return float64(neg) / float64(pos)
}

func writeTrainingCSV(path string, schema features.Schema, rows [][]float64, labels []bool) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create training file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(append(append([]string(nil), schema...), common.ColIsFraud)); err != nil {
		return err
	}

	record := make([]string, len(schema)+1)
	for i, row := range rows {
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		record[len(schema)] = "0"
		if labels[i] {
			record[len(schema)] = "1"
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write training file: %w", err)
	}
	return nil
}
