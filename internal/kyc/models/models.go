package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadType is the declared kind of an evidence file.
type UploadType string

const (
	UploadDocFront     UploadType = "DOC_FRONT"
	UploadDocBack      UploadType = "DOC_BACK"
	UploadSelfie       UploadType = "SELFIE"
	UploadAddressProof UploadType = "ADDRESS_PROOF"
)

// AllowedUploadTypes lists every accepted declared type.
var AllowedUploadTypes = map[UploadType]bool{
	UploadDocFront:     true,
	UploadDocBack:      true,
	UploadSelfie:       true,
	UploadAddressProof: true,
}

// Case is one verification attempt for a user. At most one case per user may
// be in a non-terminal status at a time.
type Case struct {
	ID         string
	UserID     uuid.UUID
	DocFrontID string
	DocBackID  string
	SelfieID   string
	AddressID  string
	Status     CaseStatus

	// Processing is the claim flag; true while exactly one worker drives the
	// case through automation. Set only via an atomic compare-and-set.
	Processing bool

	// Version is bumped on every update to detect lost updates.
	Version int64

	DecisionReason string
	ReviewerNotes  string
	ReviewedBy     *uuid.UUID
	DecidedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UploadIDs returns the four evidence upload ids in submission-slot order.
func (c *Case) UploadIDs() [4]string {
	return [4]string{c.DocFrontID, c.DocBackID, c.SelfieID, c.AddressID}
}

// Upload is an immutable record of one stored evidence file. Written once at
// upload time, never mutated.
type Upload struct {
	ID          uuid.UUID
	Type        UploadType
	UploadedBy  uuid.UUID
	Checksum    string
	SizeBytes   int64
	ContentType string
	StoragePath string
	CreatedAt   time.Time
}

// Check is an append-only audit record of one ML sub-check performed for a
// case. Type ERROR records a failed automation attempt. One case may
// accumulate many rows across repeated attempts.
type Check struct {
	ID        string
	CaseID    string
	Type      string // LIVENESS, FACE_MATCH, OCR_ID, DOC_CLASS, ERROR
	Score     *float64
	Passed    *bool
	Details   string // opaque JSON from the ML service
	CreatedAt time.Time
}

// IdemKey maps (userID, key) to the case a previous submit created, so a
// retried submit returns the same case instead of creating a duplicate.
type IdemKey struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Key       string
	CaseID    string
	CreatedAt time.Time
}
