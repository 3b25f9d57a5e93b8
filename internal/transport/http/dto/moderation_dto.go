package dto

import "time"

type ModerateRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId"`
	UserID      string `json:"userId"`
}

type ModerateResponse struct {
	Flagged    bool     `json:"flagged"`
	Severity   string   `json:"severity"`
	Categories []string `json:"categories"`
	Action     string   `json:"action"`
}

type BatchModerateRequest struct {
	Texts []string `json:"texts"`
}

type BatchModerateResponse struct {
	Results []ModerateResponse `json:"results"`
}

type QueuedResponse struct {
	Status    string `json:"status"`
	ContentID string `json:"contentId"`
}

type ModerationFlagItem struct {
	ID                string             `json:"id"`
	ContentID         string             `json:"contentId"`
	ContentType       string             `json:"contentType"`
	FlaggedCategories []string           `json:"flaggedCategories"`
	Scores            map[string]float64 `json:"scores"`
	Severity          string             `json:"severity"`
	Action            string             `json:"action"`
	UserID            string             `json:"userId"`
	CreatedAt         time.Time          `json:"createdAt"`
	EvidenceURL       *string            `json:"evidenceUrl,omitempty"`
}

type ModerationFlagsResponse struct {
	Flags []ModerationFlagItem `json:"flags"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
