package models

// CaseStatus is the lifecycle state of a verification case.
type CaseStatus string

const (
	StatusPending       CaseStatus = "PENDING"         // user submitted, queued for automation
	StatusAutoReview    CaseStatus = "AUTO_REVIEW"     // ML checks running
	StatusUnderReview   CaseStatus = "UNDER_REVIEW"    // human reviewer queue
	StatusNeedsMoreInfo CaseStatus = "NEEDS_MORE_INFO" // RFI loop with customer
	StatusApproved      CaseStatus = "APPROVED"
	StatusRejected      CaseStatus = "REJECTED"
	StatusSuperseded    CaseStatus = "SUPERSEDED" // reserved: replaced by a newer case
)

// transitions is the single source of truth for legal status changes. Every
// write path consults it before mutating a case; terminal statuses have no
// entry and therefore no outgoing transitions.
var transitions = map[CaseStatus]map[CaseStatus]bool{
	StatusPending: {
		StatusAutoReview:    true,
		StatusUnderReview:   true,
		StatusNeedsMoreInfo: true,
	},
	StatusAutoReview: {
		StatusUnderReview:   true,
		StatusNeedsMoreInfo: true,
		StatusApproved:      true,
		StatusRejected:      true,
	},
	StatusUnderReview: {
		StatusApproved:      true,
		StatusRejected:      true,
		StatusNeedsMoreInfo: true,
	},
	StatusNeedsMoreInfo: {
		StatusUnderReview: true,
		StatusRejected:    true,
	},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s CaseStatus) CanTransitionTo(target CaseStatus) bool {
	return transitions[s][target]
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s CaseStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusSuperseded:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s CaseStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAutoReview, StatusUnderReview,
		StatusNeedsMoreInfo, StatusApproved, StatusRejected, StatusSuperseded:
		return true
	}
	return false
}

// ActiveStatuses are the non-terminal statuses; a user may hold at most one
// case in any of them at a time.
func ActiveStatuses() []CaseStatus {
	return []CaseStatus{StatusPending, StatusAutoReview, StatusUnderReview, StatusNeedsMoreInfo}
}
