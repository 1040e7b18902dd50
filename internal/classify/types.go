package classify

// QuestionType categorizes what a plan question is about.
type QuestionType string

const (
	TakeoffCost      QuestionType = "TAKEOFF_COST"
	TakeoffQuantity  QuestionType = "TAKEOFF_QUANTITY"
	TakeoffModify    QuestionType = "TAKEOFF_MODIFY"
	TakeoffAnalyze   QuestionType = "TAKEOFF_ANALYZE"
	PageContent      QuestionType = "PAGE_CONTENT"
	BlueprintContext QuestionType = "BLUEPRINT_CONTEXT"
	Combined         QuestionType = "COMBINED"
	Other            QuestionType = "OTHER"
)

// ModificationIntent describes whether (and how) the user wants the
// takeoff changed.
type ModificationIntent string

const (
	IntentAdd            ModificationIntent = "add"
	IntentRemove         ModificationIntent = "remove"
	IntentUpdate         ModificationIntent = "update"
	IntentAnalyzeMissing ModificationIntent = "analyze_missing"
	IntentNone           ModificationIntent = "none"
)

// Classification is the immutable per-question result consumed by every
// downstream pipeline stage.
type Classification struct {
	QuestionType       QuestionType       `json:"question_type"`
	Targets            []string           `json:"targets"`
	Pages              []int              `json:"pages"`
	StrictTakeoffOnly  bool               `json:"strict_takeoff_only"`
	ModificationIntent ModificationIntent `json:"modification_intent"`
}

// WantsModification reports whether the classification calls for parsing
// and applying takeoff modifications.
func (c Classification) WantsModification() bool {
	switch c.ModificationIntent {
	case IntentAdd, IntentRemove, IntentUpdate:
		return true
	}
	return c.QuestionType == TakeoffModify
}

func validQuestionType(t QuestionType) bool {
	switch t {
	case TakeoffCost, TakeoffQuantity, TakeoffModify, TakeoffAnalyze,
		PageContent, BlueprintContext, Combined, Other:
		return true
	}
	return false
}

func validIntent(i ModificationIntent) bool {
	switch i {
	case IntentAdd, IntentRemove, IntentUpdate, IntentAnalyzeMissing, IntentNone:
		return true
	}
	return false
}
