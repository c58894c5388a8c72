package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/testutil"
)

func TestPreferenceUpsert(t *testing.T) {
	repo := NewPreferenceRepository(testutil.NewDB(t))
	ctx := context.Background()

	_, found, err := repo.GetPreference(ctx, "u1", model.KindPlanApproved)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SetPreference(ctx, "u1", model.KindPlanApproved, false))
	allow, found, err := repo.GetPreference(ctx, "u1", model.KindPlanApproved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, allow)

	require.NoError(t, repo.SetPreference(ctx, "u1", model.KindPlanApproved, true))
	allow, _, err = repo.GetPreference(ctx, "u1", model.KindPlanApproved)
	require.NoError(t, err)
	assert.True(t, allow)
}

func TestProjectMuteIdempotent(t *testing.T) {
	repo := NewPreferenceRepository(testutil.NewDB(t))
	ctx := context.Background()

	require.NoError(t, repo.MuteProject(ctx, "u1", 42))
	require.NoError(t, repo.MuteProject(ctx, "u1", 42))

	muted, err := repo.IsProjectMuted(ctx, "u1", 42)
	require.NoError(t, err)
	assert.True(t, muted)

	muted, err = repo.IsProjectMuted(ctx, "u1", 43)
	require.NoError(t, err)
	assert.False(t, muted)

	require.NoError(t, repo.UnmuteProject(ctx, "u1", 42))
	muted, err = repo.IsProjectMuted(ctx, "u1", 42)
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestLegacyOptOut(t *testing.T) {
	repo := NewPreferenceRepository(testutil.NewDB(t))
	ctx := context.Background()

	require.NoError(t, repo.SetLegacyOptOut(ctx, "u1", model.KindPhotoUploaded))
	ok, err := repo.HasLegacyOptOut(ctx, "u1", model.KindPhotoUploaded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasLegacyOptOut(ctx, "u1", model.KindDocumentUploaded)
	require.NoError(t, err)
	assert.False(t, ok)
}
