package handler

import (
	"time"

	"kycflow/internal/kyc/models"
)

type uploadResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Checksum    string    `json:"checksum"`
	SizeBytes   int64     `json:"sizeBytes"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

type submitRequest struct {
	DocFrontID string `json:"docFrontId"`
	DocBackID  string `json:"docBackId"`
	SelfieID   string `json:"selfieId"`
	AddressID  string `json:"addressId"`
	Consent    bool   `json:"consent"`
}

type caseResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	DocFrontID     string     `json:"docFrontId"`
	DocBackID      string     `json:"docBackId"`
	SelfieID       string     `json:"selfieId"`
	AddressID      string     `json:"addressId"`
	Status         string     `json:"status"`
	DecisionReason string     `json:"decisionReason,omitempty"`
	ReviewerNotes  string     `json:"reviewerNotes,omitempty"`
	ReviewedBy     string     `json:"reviewedBy,omitempty"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type caseListResponse struct {
	Cases []caseResponse `json:"cases"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type checkResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Score     *float64  `json:"score"`
	Passed    *bool     `json:"passed"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toCaseResponse(c *models.Case) caseResponse {
	resp := caseResponse{
		ID:             c.ID,
		UserID:         c.UserID.String(),
		DocFrontID:     c.DocFrontID,
		DocBackID:      c.DocBackID,
		SelfieID:       c.SelfieID,
		AddressID:      c.AddressID,
		Status:         string(c.Status),
		DecisionReason: c.DecisionReason,
		ReviewerNotes:  c.ReviewerNotes,
		DecidedAt:      c.DecidedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if c.ReviewedBy != nil {
		resp.ReviewedBy = c.ReviewedBy.String()
	}
	return resp
}

func toUploadResponse(u *models.Upload) uploadResponse {
	return uploadResponse{
		ID:          u.ID.String(),
		Type:        string(u.Type),
		Checksum:    u.Checksum,
		SizeBytes:   u.SizeBytes,
		ContentType: u.ContentType,
		CreatedAt:   u.CreatedAt,
	}
}

func toCheckResponses(list []*models.Check) []checkResponse {
	out := make([]checkResponse, 0, len(list))
	for _, c := range list {
		out = append(out, checkResponse{
			ID:        c.ID,
			Type:      c.Type,
			Score:     c.Score,
			Passed:    c.Passed,
			Details:   c.Details,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}
