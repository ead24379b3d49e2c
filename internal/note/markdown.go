package note

import "strings"

// sectionHeadings are the Spanish display headings in fixed SOAP order.
var sectionHeadings = map[Section]string{
	SectionSubjective: "Subjetivo (S)",
	SectionObjective:  "Objetivo (O)",
	SectionAssessment: "Evaluación (A)",
	SectionPlan:       "Plan (P)",
}

// Heading returns the display heading for a section.
func Heading(s Section) string {
	return sectionHeadings[s]
}

// Markdown renders a note as markdown with the four sections in fixed
// order. Empty sections still get a heading so the rendered note always has
// the full SOAP skeleton.
func Markdown(n *SOAPNote) string {
	var b strings.Builder
	for i, s := range Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## ")
		b.WriteString(sectionHeadings[s])
		b.WriteString("\n\n")
		content := strings.TrimSpace(n.Get(s))
		if content != "" {
			b.WriteString(content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
