package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/projtrack/internal/model"
)

type mockReader struct{ mock.Mock }

func (m *mockReader) IsProjectMuted(ctx context.Context, recipientID string, projectID int64) (bool, error) {
	args := m.Called(ctx, recipientID, projectID)
	return args.Bool(0), args.Error(1)
}

func (m *mockReader) GetPreference(ctx context.Context, recipientID string, kind model.Kind) (bool, bool, error) {
	args := m.Called(ctx, recipientID, kind)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *mockReader) HasLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) (bool, error) {
	args := m.Called(ctx, recipientID, kind)
	return args.Bool(0), args.Error(1)
}

func TestFilterMuteShortCircuits(t *testing.T) {
	r := &mockReader{}
	r.On("IsProjectMuted", mock.Anything, "u1", int64(5)).Return(true, nil)
	f := DefaultPreferenceFilter(r)

	v, err := f.Decide(context.Background(), PreferenceQuery{Kind: model.KindPlanApproved, RecipientID: "u1", ProjectID: int64Ptr(5)})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, RuleProjectMute, v.Rule)
	// 首条规则命中后不再查询
	r.AssertNotCalled(t, "GetPreference", mock.Anything, mock.Anything, mock.Anything)
}

func TestFilterWithoutProjectSkipsMuteLookup(t *testing.T) {
	r := &mockReader{}
	r.On("GetPreference", mock.Anything, "u1", model.KindRoleChanged).Return(false, false, nil)
	f := DefaultPreferenceFilter(r)

	ok, err := f.Allows(context.Background(), model.KindRoleChanged, "u1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
	r.AssertNotCalled(t, "IsProjectMuted", mock.Anything, mock.Anything, mock.Anything)
	// role_changed 不受遗留退订影响
	r.AssertNotCalled(t, "HasLegacyOptOut", mock.Anything, mock.Anything, mock.Anything)
}

func TestFilterExplicitPreferenceOverridesLegacyOptOut(t *testing.T) {
	r := &mockReader{}
	r.On("GetPreference", mock.Anything, "u1", model.KindDocumentUploaded).Return(true, true, nil)
	f := DefaultPreferenceFilter(r)

	v, err := f.Decide(context.Background(), PreferenceQuery{Kind: model.KindDocumentUploaded, RecipientID: "u1"})
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, RuleExplicitPreference, v.Rule)
	r.AssertNotCalled(t, "HasLegacyOptOut", mock.Anything, mock.Anything, mock.Anything)
}

func TestFilterExplicitDeny(t *testing.T) {
	r := &mockReader{}
	r.On("IsProjectMuted", mock.Anything, "u1", int64(1)).Return(false, nil)
	r.On("GetPreference", mock.Anything, "u1", model.KindCommentMention).Return(false, true, nil)
	f := DefaultPreferenceFilter(r)

	ok, err := f.Allows(context.Background(), model.KindCommentMention, "u1", int64Ptr(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterLegacyOptOutOnlyForGrandfatheredKinds(t *testing.T) {
	r := &mockReader{}
	r.On("GetPreference", mock.Anything, "u1", mock.Anything).Return(false, false, nil)
	r.On("HasLegacyOptOut", mock.Anything, "u1", model.KindPhotoUploaded).Return(true, nil)
	f := DefaultPreferenceFilter(r)

	v, err := f.Decide(context.Background(), PreferenceQuery{Kind: model.KindPhotoUploaded, RecipientID: "u1"})
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, RuleLegacyOptOut, v.Rule)

	v, err = f.Decide(context.Background(), PreferenceQuery{Kind: model.KindPlanRejected, RecipientID: "u1"})
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, RuleDefault, v.Rule)
}

func TestFilterPropagatesLookupError(t *testing.T) {
	r := &mockReader{}
	r.On("GetPreference", mock.Anything, "u1", model.KindRoleChanged).Return(false, false, errors.New("conn reset"))
	f := DefaultPreferenceFilter(r)

	_, err := f.Allows(context.Background(), model.KindRoleChanged, "u1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), RuleExplicitPreference)
	assert.Contains(t, err.Error(), "conn reset")
}

func TestFilterCustomResolverOrder(t *testing.T) {
	deny := NewResolver("weekend_quiet", func(context.Context, PreferenceQuery) (Decision, error) { return Deny, nil })
	f := NewPreferenceFilter(deny)

	v, err := f.Decide(context.Background(), PreferenceQuery{Kind: model.KindRoleChanged, RecipientID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, Verdict{Allowed: false, Rule: "weekend_quiet"}, v)

	v, err = NewPreferenceFilter().Decide(context.Background(), PreferenceQuery{})
	require.NoError(t, err)
	assert.Equal(t, Verdict{Allowed: true, Rule: RuleDefault}, v)
}
