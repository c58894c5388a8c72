package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/internal/testutil"
)

func newCache(t *testing.T) (*PreferenceCache, *miniredis.Miniredis, repository.PreferenceRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := repository.NewPreferenceRepository(testutil.NewDB(t))
	return NewPreferenceCache(repo, client, time.Minute), mr, repo
}

func TestCacheReadThrough(t *testing.T) {
	c, mr, repo := newCache(t)
	ctx := context.Background()

	require.NoError(t, repo.MuteProject(ctx, "u1", 9))
	muted, err := c.IsProjectMuted(ctx, "u1", 9)
	require.NoError(t, err)
	assert.True(t, muted)

	v, err := mr.Get(muteKey("u1", 9))
	require.NoError(t, err)
	assert.Equal(t, valTrue, v)
	assert.Equal(t, time.Minute, mr.TTL(muteKey("u1", 9)))

	// 直接改库绕过缓存，TTL 内仍返回旧值
	require.NoError(t, repo.UnmuteProject(ctx, "u1", 9))
	muted, err = c.IsProjectMuted(ctx, "u1", 9)
	require.NoError(t, err)
	assert.True(t, muted)

	mr.FastForward(time.Minute)
	muted, err = c.IsProjectMuted(ctx, "u1", 9)
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestCacheRemembersUnsetPreference(t *testing.T) {
	c, mr, _ := newCache(t)
	ctx := context.Background()

	_, found, err := c.GetPreference(ctx, "u1", model.KindPlanApproved)
	require.NoError(t, err)
	assert.False(t, found)

	v, err := mr.Get(explicitKey("u1", model.KindPlanApproved))
	require.NoError(t, err)
	assert.Equal(t, valUnset, v)
}

func TestCacheWritesInvalidate(t *testing.T) {
	c, mr, _ := newCache(t)
	ctx := context.Background()

	_, _, err := c.GetPreference(ctx, "u1", model.KindPlanApproved)
	require.NoError(t, err)
	require.NoError(t, c.SetPreference(ctx, "u1", model.KindPlanApproved, false))
	assert.False(t, mr.Exists(explicitKey("u1", model.KindPlanApproved)))

	allow, found, err := c.GetPreference(ctx, "u1", model.KindPlanApproved)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, allow)

	out, err := c.HasLegacyOptOut(ctx, "u1", model.KindPhotoUploaded)
	require.NoError(t, err)
	assert.False(t, out)
	require.NoError(t, c.SetLegacyOptOut(ctx, "u1", model.KindPhotoUploaded))
	out, err = c.HasLegacyOptOut(ctx, "u1", model.KindPhotoUploaded)
	require.NoError(t, err)
	assert.True(t, out)
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	c, mr, repo := newCache(t)
	ctx := context.Background()
	require.NoError(t, repo.SetLegacyOptOut(ctx, "u1", model.KindDocumentUploaded))
	mr.Close()

	out, err := c.HasLegacyOptOut(ctx, "u1", model.KindDocumentUploaded)
	require.NoError(t, err)
	assert.True(t, out)
}
