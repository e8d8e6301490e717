package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const trainScriptName = "classifier_train.py"

// ClassifierParams are the gradient boosting hyper-parameters.
type ClassifierParams struct {
	NEstimators    int     `json:"n_estimators"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	ScalePosWeight float64 `json:"scale_pos_weight"`
	Seed           int64   `json:"random_state"`
}

func DefaultClassifierParams() ClassifierParams {
	return ClassifierParams{
		NEstimators:    200,
		LearningRate:   0.05,
		MaxDepth:       8,
		ScalePosWeight: 1,
		Seed:           42,
	}
}

// FitClassifier trains the gradient boosted classifier on a CSV whose last
// column is the 0/1 label, and writes the joblib model to modelPath.
func FitClassifier(ctx context.Context, trainCSV, modelPath string, params ClassifierParams) error {
	pythonPath, err := findPython("joblib", "xgboost", "numpy")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	scriptPath := filepath.Join(filepath.Dir(modelPath), trainScriptName)
	if err := writeScript(scriptPath, trainScript); err != nil {
		return fmt.Errorf("failed to create training script: %w", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	cmd := exec.CommandContext(ctx, pythonPath, scriptPath, trainCSV, modelPath)
	cmd.Stdin = bytes.NewReader(paramsJSON)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Info().
		Str("train_csv", trainCSV).
		Str("model_path", modelPath).
		Int("n_estimators", params.NEstimators).
		Float64("scale_pos_weight", params.ScalePosWeight).
		Msg("training classifier")

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("classifier training failed: %w, stderr: %s, stdout: %s", err, stderr.String(), stdout.String())
	}

	var resp struct {
		Rows  int    `json:"rows"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("failed to parse training output: %w, stdout: %s", err, stdout.String())
	}
	if resp.Error != "" {
		return fmt.Errorf("classifier training error: %s", resp.Error)
	}

	log.Info().Int("rows", resp.Rows).Str("model_path", modelPath).Msg("classifier trained")
	return nil
}

const trainScript = `#!/usr/bin/env python3
import sys
import json

try:
    import joblib
    import numpy as np
    from xgboost import XGBClassifier
except ImportError as e:
    print(json.dumps({"error": "missing dependency: %s" % e}))
    sys.exit(1)


def main():
    if len(sys.argv) != 3:
        print(json.dumps({"error": "usage: classifier_train.py <train_csv> <model_path>"}))
        sys.exit(1)

    try:
        params = json.load(sys.stdin)
        data = np.loadtxt(sys.argv[1], delimiter=",", skiprows=1, ndmin=2)
        x, y = data[:, :-1], data[:, -1].astype(int)
        model = XGBClassifier(eval_metric="logloss", **params)
        model.fit(x, y)
        joblib.dump(model, sys.argv[2])
        print(json.dumps({"rows": int(len(y))}))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)


if __name__ == "__main__":
    main()
`
