package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	legal := []struct{ from, to CaseStatus }{
		{StatusPending, StatusAutoReview},
		{StatusPending, StatusUnderReview},
		{StatusPending, StatusNeedsMoreInfo},
		{StatusAutoReview, StatusUnderReview},
		{StatusAutoReview, StatusNeedsMoreInfo},
		{StatusAutoReview, StatusApproved},
		{StatusAutoReview, StatusRejected},
		{StatusUnderReview, StatusApproved},
		{StatusUnderReview, StatusRejected},
		{StatusUnderReview, StatusNeedsMoreInfo},
		{StatusNeedsMoreInfo, StatusUnderReview},
		{StatusNeedsMoreInfo, StatusRejected},
	}
	for _, tc := range legal {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	all := []CaseStatus{
		StatusPending, StatusAutoReview, StatusUnderReview,
		StatusNeedsMoreInfo, StatusApproved, StatusRejected, StatusSuperseded,
	}
	legalSet := make(map[[2]CaseStatus]bool, len(legal))
	for _, tc := range legal {
		legalSet[[2]CaseStatus{tc.from, tc.to}] = true
	}
	for _, from := range all {
		for _, to := range all {
			if legalSet[[2]CaseStatus{from, to}] {
				continue
			}
			assert.False(t, from.CanTransitionTo(to), "%s -> %s should be illegal", from, to)
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	all := []CaseStatus{
		StatusPending, StatusAutoReview, StatusUnderReview,
		StatusNeedsMoreInfo, StatusApproved, StatusRejected, StatusSuperseded,
	}
	for _, terminal := range []CaseStatus{StatusApproved, StatusRejected, StatusSuperseded} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range all {
			assert.False(t, terminal.CanTransitionTo(to), "%s must not transition to %s", terminal, to)
		}
	}
}

func TestActiveStatusesAreNonTerminal(t *testing.T) {
	for _, s := range ActiveStatuses() {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
		assert.True(t, s.Valid())
	}
}
