package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateActive, StateActive, true},
		{StateActive, StateCompleted, true},
		{StateActive, StateError, true},
		{StateError, StateActive, true},
		{StateError, StateCompleted, true},
		{StateCompleted, StateError, false},
		{StateCompleted, StateActive, false},
		{StateCompleted, StateExpired, true},
		{StateExpired, StateActive, false},
		{State("bogus"), StateActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestState_CheckTransition(t *testing.T) {
	assert.NoError(t, StateActive.CheckTransition(StateCompleted))

	err := StateCompleted.CheckTransition(StateActive)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "completed -> active")

	assert.ErrorIs(t, StateExpired.CheckTransition(StateExpired), ErrInvalidTransition)
}

func TestSession_CloneIsDeep(t *testing.T) {
	now := time.Now()
	s := New("web_1", now)
	s.ExtractedData["name"] = FieldValue{Value: "João", Confidence: 0.9}
	s.ErrorContext = &ErrorContext{Kind: FaultExtractionFailure, LastGoodData: map[string]FieldValue{"name": {Value: "João"}}}
	s.CompletedAt = &now

	c := s.Clone()
	c.ExtractedData["phone"] = FieldValue{Value: "5511999998888"}
	c.ErrorContext.LastGoodData["phone"] = FieldValue{Value: "x"}
	*c.CompletedAt = now.Add(time.Hour)

	assert.False(t, s.Has("phone"))
	assert.NotContains(t, s.ErrorContext.LastGoodData, "phone")
	assert.Equal(t, now, *s.CompletedAt)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestSession_IdleSince(t *testing.T) {
	now := time.Now()
	s := New("x", now)

	assert.False(t, s.IdleSince(now.Add(30*time.Minute), 30*time.Minute))
	assert.True(t, s.IdleSince(now.Add(31*time.Minute), 30*time.Minute))
	assert.False(t, s.IdleSince(now.Add(time.Hour), 0), "zero ttl disables expiry")
}

func TestValidateID(t *testing.T) {
	valid := []string{"web_1700000000_ab12cd34", "abc", "A-b_9", strings.Repeat("x", 128)}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), id)
	}

	invalid := []string{"", "has space", "semi;colon", "ção", strings.Repeat("x", 129)}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, id)
	}
}

func TestNewID(t *testing.T) {
	now := time.Unix(1700000000, 0)
	id := NewID(now)

	require.NoError(t, ValidateID(id))
	assert.True(t, strings.HasPrefix(id, "web_1700000000_"))
	assert.Len(t, id, len("web_1700000000_")+8)
	assert.NotEqual(t, id, NewID(now))
}
