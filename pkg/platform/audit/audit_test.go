package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublisherStampsTimestamp(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink)

	err := pub.Emit(context.Background(), Event{
		UserID:  "u1",
		Subject: "case-1",
		Action:  ActionCaseSubmitted,
	})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	require.False(t, events[0].Timestamp.IsZero())
	require.Equal(t, ActionCaseSubmitted, events[0].Action)
}

func TestPublisherKeepsExplicitTimestamp(t *testing.T) {
	sink := NewMemorySink()
	pub := NewPublisher(sink)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), Event{
		Timestamp: at,
		UserID:    "u1",
		Subject:   "case-1",
		Action:    ActionCaseDecided,
		Decision:  "APPROVED",
	})
	require.NoError(t, err)
	require.Equal(t, at, sink.Events()[0].Timestamp)
}
