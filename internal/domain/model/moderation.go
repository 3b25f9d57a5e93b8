package model

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mythcraft/api/internal/domain/enums"
)

type ModerationRequest struct {
	Content     string            `json:"content"`
	ContentType enums.ContentType `json:"contentType"`
	ContentID   string            `json:"contentId"`
	UserID      string            `json:"userId"`
}

type ClassificationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// FailSafeResult is returned in place of a real classification whenever the
// classifier could not be reached or answered garbage.
func FailSafeResult() ClassificationResult {
	return ClassificationResult{
		Flagged:        true,
		Categories:     map[string]bool{enums.CategoryError: true},
		CategoryScores: map[string]float64{enums.CategoryError: 1.0},
	}
}

func (r ClassificationResult) FailSafe() bool {
	return r.Categories[enums.CategoryError]
}

// FlaggedCategories returns the names of categories reported true, sorted.
func (r ClassificationResult) FlaggedCategories() []string {
	names := make([]string, 0, len(r.Categories))
	for name, flagged := range r.Categories {
		if flagged {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r ClassificationResult) MaxScore() float64 {
	maxScore := 0.0
	for _, score := range r.CategoryScores {
		if score > maxScore {
			maxScore = score
		}
	}
	return maxScore
}

type ModerationFlag struct {
	ID                uuid.UUID          `json:"id"`
	ContentID         string             `json:"content_id"`
	ContentType       enums.ContentType  `json:"content_type"`
	FlaggedCategories []string           `json:"flagged_categories"`
	Scores            map[string]float64 `json:"scores"`
	Severity          enums.Severity     `json:"severity"`
	Action            enums.Action       `json:"action"`
	UserID            string             `json:"user_id"`
	CreatedAt         time.Time          `json:"created_at"`
}

type ModerationOutcome struct {
	Flagged    bool           `json:"flagged"`
	Severity   enums.Severity `json:"severity"`
	Categories []string       `json:"categories"`
	Action     enums.Action   `json:"action"`
}

// ContentTarget identifies the content row a block decision hides.
type ContentTarget struct {
	Table     string
	ContentID string
}

type BlockedContentRef struct {
	ContentType enums.ContentType
	ContentID   string
	FlaggedAt   time.Time
}
