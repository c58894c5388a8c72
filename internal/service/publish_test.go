package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/projtrack/config"
	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
)

type mockOutbox struct {
	mock.Mock
	repository.OutboxRepository
}

func (m *mockOutbox) CreateBatch(ctx context.Context, records []*model.DispatchRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func TestPublishWritesOneRecordPerRecipient(t *testing.T) {
	h := newHarness(t, config.DefaultDispatchConfig())
	ctx := context.Background()

	n, err := h.publisher.Publish(ctx, model.KindPlanApproved, []string{" u1 ", "U1", "u2", ""},
		map[string]any{"plan_id": 9}, Metadata{
			Module:      "plans",
			EventType:   "approved",
			ProjectID:   int64Ptr(3),
			ActorID:     "boss",
			Route:       "/projects3/plans/9",
			Fingerprint: "plan-9-approved",
		})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	claimed, err := h.outbox.ClaimDue(ctx, h.clock.Now(), 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "u1", claimed[0].RecipientID)
	assert.Equal(t, "u2", claimed[1].RecipientID)
	assert.Equal(t, claimed[0].Payload, claimed[1].Payload)
	assert.Equal(t, "/projects/3/plans/9", claimed[0].Route)
	require.NotNil(t, claimed[0].ActorID)
	assert.Equal(t, "boss", *claimed[0].ActorID)
	assert.Equal(t, "plan-9-approved", claimed[0].FingerprintValue())

	env, err := DecodeEnvelope(claimed[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, model.KindPlanApproved, env.Kind)
	assert.JSONEq(t, `{"plan_id":9}`, string(env.Data))
}

func TestPublishNoRecipientsIsNoop(t *testing.T) {
	ob := &mockOutbox{}
	p := NewPublisher(ob)

	n, err := p.Publish(context.Background(), model.KindRoleChanged, []string{" ", ""}, map[string]int{"a": 1}, Metadata{})
	require.NoError(t, err)
	assert.Zero(t, n)
	ob.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestPublishValidation(t *testing.T) {
	cases := []struct {
		name    string
		kind    model.Kind
		rcpts   []string
		payload any
		meta    Metadata
		field   string
	}{
		{"unknown kind", model.Kind("nope"), []string{"u1"}, 1, Metadata{}, "kind"},
		{"recipient too long", model.KindRoleChanged, []string{strings.Repeat("r", 65)}, 1, Metadata{}, "recipients[0]"},
		{"title too long", model.KindRoleChanged, []string{"u1"}, 1, Metadata{Title: strings.Repeat("t", 256)}, "title"},
		{"summary too long", model.KindRoleChanged, []string{"u1"}, 1, Metadata{Summary: strings.Repeat("s", 1001)}, "summary"},
		{"scope id too long", model.KindRoleChanged, []string{"u1"}, 1, Metadata{ScopeID: strings.Repeat("s", 129)}, "scope_id"},
		{"fingerprint too long", model.KindRoleChanged, []string{"u1"}, 1, Metadata{Fingerprint: strings.Repeat("f", 256)}, "fingerprint"},
		{"non positive project", model.KindRoleChanged, []string{"u1"}, 1, Metadata{ProjectID: int64Ptr(0)}, "project_id"},
		{"nil payload", model.KindRoleChanged, []string{"u1"}, nil, Metadata{}, "payload"},
		{"unserializable payload", model.KindRoleChanged, []string{"u1"}, make(chan int), Metadata{}, "payload"},
		{"oversized payload", model.KindRoleChanged, []string{"u1"}, strings.Repeat("x", MaxPayloadBytes), Metadata{}, "payload"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ob := &mockOutbox{}
			p := NewPublisher(ob)
			_, err := p.Publish(context.Background(), tc.kind, tc.rcpts, tc.payload, tc.meta)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
			ob.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
		})
	}
}

func TestPublishTitleLimitCountsCharacters(t *testing.T) {
	ob := &mockOutbox{}
	ob.On("CreateBatch", mock.Anything, mock.Anything).Return(nil)
	p := NewPublisher(ob)

	_, err := p.Publish(context.Background(), model.KindRoleChanged, []string{"u1"}, 1,
		Metadata{Title: strings.Repeat("审", 255)})
	require.NoError(t, err)
	ob.AssertExpectations(t)
}

func TestPublishPropagatesStoreError(t *testing.T) {
	ob := &mockOutbox{}
	ob.On("CreateBatch", mock.Anything, mock.Anything).Return(errors.New("db down"))
	p := NewPublisher(ob)

	_, err := p.Publish(context.Background(), model.KindRoleChanged, []string{"u1"}, 1, Metadata{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "db down")
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/projects12":              "/projects/12",
		"/projects12/plans":        "/projects/12/plans",
		"/projects12?tab=docs":     "/projects/12?tab=docs",
		"/projects12#top":          "/projects/12#top",
		"/projects/12/plans":       "/projects/12/plans",
		"/projects12abc":           "/projects12abc",
		"/projects1/x/projects2/y": "/projects/1/x/projects/2/y",
		"":                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRoute(in), in)
	}
}

func TestEnvelopeShape(t *testing.T) {
	raw, err := EncodeEnvelope(model.KindPhotoUploaded, map[string]string{"photo": "p1"})
	require.NoError(t, err)

	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &generic))
	assert.JSONEq(t, `1`, string(generic["v"]))
	assert.JSONEq(t, `"photo_uploaded"`, string(generic["kind"]))
	assert.JSONEq(t, `{"photo":"p1"}`, string(generic["data"]))
}
