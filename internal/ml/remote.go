package ml

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fraud-detector/internal/features"

	"github.com/go-resty/resty/v2"
)

// RemoteScorer scores rows against a ModelServer.
type RemoteScorer struct {
	base string
	rest *resty.Client
}

func NewRemoteScorer(base string, timeout time.Duration) *RemoteScorer {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(2).SetRetryWaitTime(200 * time.Millisecond)
	return &RemoteScorer{base: strings.TrimRight(base, "/"), rest: r}
}

func (c *RemoteScorer) Score(ctx context.Context, f []float64) (float64, error) {
	scores, err := c.ScoreBatch(ctx, [][]float64{f})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

func (c *RemoteScorer) ScoreBatch(ctx context.Context, rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return []float64{}, nil
	}

	var out ScoreResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(ScoreRequest{Rows: rows}).
		SetResult(&out).
		Post(c.base + "/score")
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrModelUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("model server error: status %d, body: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if len(out.Scores) != len(rows) {
		return nil, fmt.Errorf("model server returned %d scores for %d rows", len(out.Scores), len(rows))
	}
	return out.Scores, nil
}

// Info fetches the served model's description.
func (c *RemoteScorer) Info(ctx context.Context) (*ModelInfo, error) {
	var info ModelInfo
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(&info).
		Get(c.base + "/model/info")
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrModelUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("model server error: status %d, body: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return &info, nil
}

// RemoteModel builds a model handle whose scores come from the server.
func RemoteModel(ctx context.Context, base string, timeout time.Duration) (*Model, error) {
	c := NewRemoteScorer(base, timeout)
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := ParseConvention(string(info.Convention))
	if err != nil {
		return nil, err
	}
	return &Model{
		Name:       info.Name,
		Version:    info.Version,
		Convention: conv,
		Schema:     features.Schema(info.Schema),
		Scorer:     c,
	}, nil
}
