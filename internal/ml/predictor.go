package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fraud-detector/internal/features"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLModelAgeSet(float64)
	MLPredictionScoresObserve(float64)
	MLTimeoutsInc()
	MLFallbackUseInc()
}

const inferenceScriptName = "classifier_inference.py"

// Classifier scores rows with a gradient boosted model persisted by joblib,
// run through a Python subprocess. When Python or the model is unavailable it
// answers with the heuristic scorer instead.
type Classifier struct {
	available    bool
	modelPath    string
	pythonPath   string
	scriptPath   string
	numFeatures  int
	mu           sync.RWMutex
	lastUsed     time.Time
	timeout      time.Duration
	modelCreated time.Time
	fallback     *HeuristicScorer
	metrics      MetricsInterface
	// recheck is how long the classifier stays on the fallback after a
	// failure before the model is health checked again.
	recheck     time.Duration
	lastFailure time.Time
}

// classifierRecheck is the default wait before a failed model is retried.
const classifierRecheck = time.Minute

type scoreRequest struct {
	Rows [][]float64 `json:"rows"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

func NewClassifier(path string, schema features.Schema, metrics MetricsInterface, timeout time.Duration) *Classifier {
	c := &Classifier{
		modelPath:   path,
		numFeatures: len(schema),
		timeout:     timeout,
		fallback:    NewHeuristicScorer(schema),
		metrics:     metrics,
		recheck:     classifierRecheck,
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Warn().Err(err).Str("model_path", path).Msg("classifier model not found, using fallback heuristics")
		return c
	}
	c.modelCreated = info.ModTime()

	pythonPath, err := findPython("joblib", "xgboost")
	if err != nil {
		log.Warn().Err(err).Msg("Python not found, using fallback heuristics")
		return c
	}

	scriptPath := filepath.Join(filepath.Dir(path), inferenceScriptName)
	if err := writeScript(scriptPath, inferenceScript); err != nil {
		log.Warn().Err(err).Msg("failed to create inference script, using fallback")
		return c
	}

	c.pythonPath = pythonPath
	c.scriptPath = scriptPath
	c.available = true

	if err := c.healthCheck(); err != nil {
		log.Warn().Err(err).Msg("classifier health check failed, using fallback")
		c.available = false
		c.lastFailure = time.Now()
	} else {
		log.Info().Str("model_path", path).Msg("classifier model loaded")
	}

	if c.metrics != nil && !c.modelCreated.IsZero() {
		c.metrics.MLModelAgeSet(time.Since(c.modelCreated).Seconds())
	}

	return c
}

// Available reports whether scores come from the trained model.
func (c *Classifier) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Classifier) Score(ctx context.Context, f []float64) (float64, error) {
	scores, err := c.ScoreBatch(ctx, [][]float64{f})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreBatch returns one fraud probability per row.
func (c *Classifier) ScoreBatch(ctx context.Context, rows [][]float64) ([]float64, error) {
	scores, _, err := c.ScoreBatchFallback(ctx, rows)
	return scores, err
}

// ScoreBatchFallback is ScoreBatch that also reports whether the scores came
// from the heuristic instead of the trained model.
//
// A timeout is returned as an error wrapping context.DeadlineExceeded and
// leaves the model enabled. Any other failure switches to the heuristic until
// a health check passes, at most once per recheck interval.
func (c *Classifier) ScoreBatchFallback(ctx context.Context, rows [][]float64) ([]float64, bool, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.MLLatencyObserve(time.Since(start).Seconds())
		}
	}()

	for i, r := range rows {
		if len(r) != c.numFeatures {
			return nil, false, fmt.Errorf("row %d: expected %d features, got %d", i, c.numFeatures, len(r))
		}
	}

	if !c.Available() && !c.recover() {
		scores, err := c.fallbackScores(ctx, rows)
		return scores, true, err
	}

	scores, err := c.predictInternal(ctx, rows)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		log.Error().Err(err).Msg("classifier prediction failed, falling back to heuristics")
		if c.metrics != nil {
			c.metrics.MLFailuresInc()
		}
		c.mu.Lock()
		c.available = false
		c.lastFailure = time.Now()
		c.mu.Unlock()
		scores, err := c.fallbackScores(ctx, rows)
		return scores, true, err
	}

	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()

	if c.metrics != nil {
		for _, s := range scores {
			c.metrics.MLPredictionsInc()
			c.metrics.MLPredictionScoresObserve(s)
		}
	}

	return scores, false, nil
}

// recover health checks a model that failed earlier and re-enables it when
// the check passes. Models that never loaded stay on the fallback.
func (c *Classifier) recover() bool {
	c.mu.Lock()
	if c.pythonPath == "" || c.lastFailure.IsZero() || time.Since(c.lastFailure) < c.recheck {
		c.mu.Unlock()
		return false
	}
	c.lastFailure = time.Now()
	c.mu.Unlock()

	if err := c.healthCheck(); err != nil {
		log.Debug().Err(err).Msg("classifier still unavailable")
		return false
	}

	c.mu.Lock()
	c.available = true
	c.lastFailure = time.Time{}
	c.mu.Unlock()
	log.Info().Str("model_path", c.modelPath).Msg("classifier model re-enabled")
	return true
}

func (c *Classifier) fallbackScores(ctx context.Context, rows [][]float64) ([]float64, error) {
	scores, err := c.fallback.ScoreBatch(ctx, rows)
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		for range scores {
			c.metrics.MLPredictionsInc()
			c.metrics.MLFallbackUseInc()
		}
	}
	return scores, nil
}

func (c *Classifier) predictInternal(ctx context.Context, rows [][]float64) ([]float64, error) {
	for i, r := range rows {
		for j, v := range r {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("row %d feature %d is not finite", i, j)
			}
		}
	}

	reqJSON, err := json.Marshal(scoreRequest{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.pythonPath, c.scriptPath, c.modelPath)
	cmd.Stdin = bytes.NewReader(reqJSON)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		log.Error().
			Err(err).
			Str("python_path", c.pythonPath).
			Str("script_path", c.scriptPath).
			Str("model_path", c.modelPath).
			Str("stderr", stderr.String()).
			Str("stdout", stdout.String()).
			Int("rows", len(rows)).
			Dur("timeout", c.timeout).
			Bool("context_cancelled", ctx.Err() != nil).
			Msg("Python inference execution failed")

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if c.metrics != nil {
				c.metrics.MLTimeoutsInc()
			}
			return nil, fmt.Errorf("prediction timeout after %v: %w", c.timeout, context.DeadlineExceeded)
		}
		if strings.Contains(stderr.String(), "No such file or directory") {
			return nil, fmt.Errorf("model file not accessible: %w", err)
		}
		return nil, fmt.Errorf("python inference failed: %w, stderr: %s", err, stderr.String())
	}

	var resp scoreResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, stdout: %s", err, stdout.String())
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("python inference error: %s", resp.Error)
	}
	if len(resp.Scores) != len(rows) {
		return nil, fmt.Errorf("expected %d scores, got %d", len(rows), len(resp.Scores))
	}
	for i, s := range resp.Scores {
		if s < 0 || s > 1 || math.IsNaN(s) {
			return nil, fmt.Errorf("invalid probability at row %d: %f", i, s)
		}
	}

	log.Debug().Int("rows", len(rows)).Msg("classifier prediction successful")
	return resp.Scores, nil
}

func (c *Classifier) healthCheck() error {
	_, err := c.predictInternal(context.Background(), [][]float64{make([]float64, c.numFeatures)})
	return err
}

func findPython(modules ...string) (string, error) {
	check := "import sys"
	if len(modules) > 0 {
		check += ", " + strings.Join(modules, ", ")
	}
	check += "; print('Python', sys.version)"

	var candidates []string
	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates = append(candidates,
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		)
	}
	for _, name := range []string{"python3", "python", "python3.12", "python3.11", "python3.10"} {
		if path, err := exec.LookPath(name); err == nil {
			candidates = append(candidates, path)
		}
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		out, err := exec.Command(candidate, "-c", check).Output()
		if err == nil && strings.Contains(string(out), "Python 3") {
			log.Debug().Str("python_path", candidate).Msg("using Python interpreter")
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no Python 3 interpreter with modules %v found", modules)
}

func writeScript(path, script string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(script), 0o755)
}

const inferenceScript = `#!/usr/bin/env python3
import sys
import json

try:
    import joblib
    import numpy as np
except ImportError as e:
    print(json.dumps({"error": "missing dependency: %s" % e}))
    sys.exit(1)


def main():
    if len(sys.argv) != 2:
        print(json.dumps({"error": "usage: classifier_inference.py <model_path>"}))
        sys.exit(1)

    try:
        request = json.load(sys.stdin)
        rows = np.array(request["rows"], dtype=np.float64)
        model = joblib.load(sys.argv[1])
        if hasattr(model, "predict_proba"):
            scores = model.predict_proba(rows)[:, 1]
        else:
            scores = model.predict(rows)
        print(json.dumps({"scores": [float(s) for s in scores]}))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)


if __name__ == "__main__":
    main()
`
