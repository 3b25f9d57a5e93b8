package moderation

import (
	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
)

const (
	criticalThreshold = 0.95
	highThreshold     = 0.85
	mediumThreshold   = 0.70
)

// MapSeverity turns a classification into a severity and the action taken on
// the content. A flagged result never maps to allow.
func MapSeverity(result model.ClassificationResult) (enums.Severity, enums.Action) {
	if !result.Flagged {
		return enums.SeverityLow, enums.ActionAllow
	}

	for _, category := range enums.ZeroToleranceCategories() {
		if result.Categories[category] {
			return enums.SeverityCritical, enums.ActionBlock
		}
	}

	score := result.MaxScore()
	switch {
	case score >= criticalThreshold:
		return enums.SeverityCritical, enums.ActionBlock
	case score >= highThreshold:
		return enums.SeverityHigh, enums.ActionBlock
	case score >= mediumThreshold:
		return enums.SeverityMedium, enums.ActionReview
	default:
		return enums.SeverityLow, enums.ActionReview
	}
}
