package ml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, dir string) *ModelManager {
	t.Helper()
	mm, err := NewModelManager(dir)
	require.NoError(t, err)

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	mm.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return mm
}

func TestModelManager_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	mm := newTestManager(t, dir)

	_, err := mm.Current("isolation_forest")
	assert.ErrorIs(t, err, ErrUnknownModel)

	v1, err := mm.AddVersion(ModelVersion{Name: "isolation_forest", Convention: ConventionAnomalyScore, Schema: []string{"amt"}})
	require.NoError(t, err)
	assert.Equal(t, "20240101-120100.000", v1.Version)
	assert.False(t, v1.IsActive)

	require.NoError(t, mm.ActivateVersion("isolation_forest", v1.Version))

	v2, err := mm.AddVersion(ModelVersion{Name: "isolation_forest", Convention: ConventionAnomalyScore, Schema: []string{"amt"}})
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion("isolation_forest", v2.Version))

	cur, err := mm.Current("isolation_forest")
	require.NoError(t, err)
	assert.Equal(t, v2.Version, cur.Version)

	history := mm.ListVersions("isolation_forest")
	require.Len(t, history, 2)
	assert.Equal(t, v2.Version, history[0].Version, "newest first")

	require.NoError(t, mm.Rollback("isolation_forest"))
	cur, err = mm.Current("isolation_forest")
	require.NoError(t, err)
	assert.Equal(t, v1.Version, cur.Version)

	assert.Error(t, mm.Rollback("isolation_forest"), "no version older than v1")

	// reload from disk
	reloaded, err := NewModelManager(dir)
	require.NoError(t, err)
	cur, err = reloaded.Current("isolation_forest")
	require.NoError(t, err)
	assert.Equal(t, v1.Version, cur.Version)
	assert.Equal(t, ConventionAnomalyScore, cur.Convention)
}

func TestModelManager_ActivateUnknown(t *testing.T) {
	mm := newTestManager(t, t.TempDir())

	v, err := mm.AddVersion(ModelVersion{Name: "xgboost"})
	require.NoError(t, err)
	require.NoError(t, mm.ActivateVersion("xgboost", v.Version))

	err = mm.ActivateVersion("xgboost", "missing")
	assert.ErrorIs(t, err, ErrUnknownModel)

	cur, err := mm.Current("xgboost")
	require.NoError(t, err)
	assert.Equal(t, v.Version, cur.Version, "failed activation must not change the active version")
}

func TestModelManager_SeparateNames(t *testing.T) {
	mm := newTestManager(t, t.TempDir())

	a, err := mm.AddVersion(ModelVersion{Name: "isolation_forest"})
	require.NoError(t, err)
	b, err := mm.AddVersion(ModelVersion{Name: "xgboost"})
	require.NoError(t, err)

	require.NoError(t, mm.ActivateVersion("isolation_forest", a.Version))
	require.NoError(t, mm.ActivateVersion("xgboost", b.Version))

	cur, err := mm.Current("isolation_forest")
	require.NoError(t, err)
	assert.Equal(t, a.Version, cur.Version)
	assert.Len(t, mm.ListVersions(""), 2)
	assert.Len(t, mm.ListVersions("xgboost"), 1)
}
