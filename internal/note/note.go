package note

// SOAPNote is a structured clinical note in SOAP form. All four sections are
// always present; a section the model did not supply is an empty string, so
// downstream consumers never branch on missing keys.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Section is a canonical SOAP section name.
type Section string

const (
	SectionSubjective Section = "subjective"
	SectionObjective  Section = "objective"
	SectionAssessment Section = "assessment"
	SectionPlan       Section = "plan"
)

// Sections lists the canonical sections in their fixed rendering order.
var Sections = []Section{
	SectionSubjective,
	SectionObjective,
	SectionAssessment,
	SectionPlan,
}

// Get returns the text of a section by canonical name.
func (n *SOAPNote) Get(s Section) string {
	switch s {
	case SectionSubjective:
		return n.Subjective
	case SectionObjective:
		return n.Objective
	case SectionAssessment:
		return n.Assessment
	case SectionPlan:
		return n.Plan
	}
	return ""
}

// set assigns the text of a section by canonical name.
func (n *SOAPNote) set(s Section, text string) {
	switch s {
	case SectionSubjective:
		n.Subjective = text
	case SectionObjective:
		n.Objective = text
	case SectionAssessment:
		n.Assessment = text
	case SectionPlan:
		n.Plan = text
	}
}

// IsEmpty reports whether all four sections are empty.
func (n *SOAPNote) IsEmpty() bool {
	return n.Subjective == "" && n.Objective == "" && n.Assessment == "" && n.Plan == ""
}
