package enums

// Moderation categories reported by the classification service.
const (
	CategoryHate                  = "hate"
	CategoryHateThreatening       = "hate/threatening"
	CategoryHarassment            = "harassment"
	CategoryHarassmentThreatening = "harassment/threatening"
	CategorySelfHarm              = "self-harm"
	CategorySelfHarmIntent        = "self-harm/intent"
	CategorySelfHarmInstructions  = "self-harm/instructions"
	CategorySexual                = "sexual"
	CategorySexualMinors          = "sexual/minors"
	CategoryViolence              = "violence"
	CategoryViolenceGraphic       = "violence/graphic"

	// CategoryError marks a synthetic result produced when classification failed.
	CategoryError = "error"
)

var categories = []string{
	CategoryHate,
	CategoryHateThreatening,
	CategoryHarassment,
	CategoryHarassmentThreatening,
	CategorySelfHarm,
	CategorySelfHarmIntent,
	CategorySelfHarmInstructions,
	CategorySexual,
	CategorySexualMinors,
	CategoryViolence,
	CategoryViolenceGraphic,
}

// zero tolerance: presence alone blocks, whatever the score
var zeroToleranceCategories = []string{
	CategorySexualMinors,
	CategoryHateThreatening,
	CategoryViolenceGraphic,
	CategorySelfHarmInstructions,
}

func Categories() []string {
	return append([]string(nil), categories...)
}

func ZeroToleranceCategories() []string {
	return append([]string(nil), zeroToleranceCategories...)
}

func IsKnownCategory(name string) bool {
	for _, c := range categories {
		if c == name {
			return true
		}
	}
	return false
}
