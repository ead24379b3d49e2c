package note

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/clinia-app/clinia/internal/errors"
)

// sectionSynonyms maps canonical section names to accepted header/key
// spellings (lowercase). The extraction prompt asks for the Spanish forms;
// the English forms tolerate models that answer in the instruction language.
var sectionSynonyms = map[Section][]string{
	SectionSubjective: {"subjective", "subjetivo", "subjetivo (s)", "s"},
	SectionObjective:  {"objective", "objetivo", "objetivo (o)", "o"},
	SectionAssessment: {"assessment", "evaluacion", "evaluación", "análisis", "analisis", "evaluacion (a)", "a"},
	SectionPlan:       {"plan", "plan (p)", "p"},
}

// headerPattern matches markdown headers (h1-h6) at the start of a line.
var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+([^\n]+?)[ \t]*$`)

// colonHeaderPattern matches bare "Subjetivo:" style section labels at the
// start of a line, with optional bold markers.
var colonHeaderPattern = regexp.MustCompile(`(?m)^\*{0,2}([^\n:*]{1,40}?)\*{0,2}:[ \t]*$`)

// whitespaceRegex matches one or more whitespace characters.
var whitespaceRegex = regexp.MustCompile(`\s+`)

// normalize lowercases, trims, and collapses internal whitespace.
func normalize(s string) string {
	return whitespaceRegex.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// matchCanonical returns the canonical section for a header or key, or ""
// if it matches no known synonym.
func matchCanonical(name string) Section {
	norm := normalize(name)
	for _, canonical := range Sections {
		for _, syn := range sectionSynonyms[canonical] {
			if norm == syn {
				return canonical
			}
		}
	}
	return ""
}

// Decode turns a raw extraction-capability response into a SOAPNote.
//
// The response is expected to be a JSON object keyed by section (possibly
// wrapped in markdown code fences); a markdown/label decomposition is
// attempted as a fallback. Sections the response omits come back as empty
// strings. If the response cannot be decomposed into any known section at
// all, Decode fails with MALFORMED_MODEL_OUTPUT so callers can tell
// "provider unreachable" from "provider answered unusably".
func Decode(raw string) (*SOAPNote, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return nil, errors.NewMalformedModelOutput("extraction response is empty")
	}

	if n, ok := decodeJSON(cleaned); ok {
		return n, nil
	}
	if n, ok := decodeHeaders(cleaned); ok {
		return n, nil
	}

	return nil, errors.NewMalformedModelOutput("extraction response is not decomposable into SOAP sections")
}

// stripFences removes markdown code fences and clamps to the outermost JSON
// object when one is present, mirroring how models wrap JSON answers.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.Contains(s, "```json") {
		if parts := strings.SplitN(s, "```json", 2); len(parts) == 2 {
			s = strings.SplitN(parts[1], "```", 2)[0]
		}
	} else if strings.Contains(s, "```") {
		if parts := strings.SplitN(s, "```", 3); len(parts) >= 2 {
			s = parts[1]
		}
	}
	s = strings.TrimSpace(s)

	// Clamp to the outermost braces when the payload looks like JSON with
	// stray prose around it.
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first != -1 && last > first {
		candidate := s[first : last+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return s
}

// decodeJSON attempts to read the response as a JSON object keyed by
// section name (or synonym). Unknown keys are ignored; known keys may hold
// strings, arrays, or nested objects, which are flattened to text.
func decodeJSON(s string) (*SOAPNote, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}

	n := &SOAPNote{}
	matched := false
	for key, val := range m {
		canonical := matchCanonical(key)
		if canonical == "" {
			continue
		}
		matched = true
		n.set(canonical, strings.TrimSpace(flattenValue(val, 0)))
	}
	if !matched {
		return nil, false
	}
	return n, true
}

// flattenValue renders a JSON value as plain text: strings as-is, arrays as
// bullet lines, objects as "label: value" lines.
func flattenValue(raw json.RawMessage, depth int) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		var lines []string
		for _, item := range arr {
			text := strings.TrimSpace(flattenValue(item, depth+1))
			if text != "" {
				lines = append(lines, "- "+text)
			}
		}
		return strings.Join(lines, "\n")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var lines []string
		for _, k := range keys {
			text := strings.TrimSpace(flattenValue(obj[k], depth+1))
			if text == "" {
				continue
			}
			label := strings.ReplaceAll(k, "_", " ")
			if strings.Contains(text, "\n") {
				lines = append(lines, label+":\n"+text)
			} else {
				lines = append(lines, label+": "+text)
			}
		}
		return strings.Join(lines, "\n")
	}

	// Scalar number/bool: render via the default formatter.
	var v any
	if err := json.Unmarshal(raw, &v); err == nil && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// decodeHeaders attempts a markdown decomposition: canonical section headers
// (## Subjetivo) or colon labels (SUBJETIVO:) delimit section content.
// Headers that match no known synonym contribute nothing; if none match,
// the response is not decomposable.
func decodeHeaders(s string) (*SOAPNote, bool) {
	type boundary struct {
		canonical Section
		start     int // content start
		headerPos int
	}

	var bounds []boundary
	for _, m := range headerPattern.FindAllStringSubmatchIndex(s, -1) {
		name := s[m[4]:m[5]]
		if canonical := matchCanonical(name); canonical != "" {
			bounds = append(bounds, boundary{canonical, m[1], m[0]})
		}
	}
	if len(bounds) == 0 {
		for _, m := range colonHeaderPattern.FindAllStringSubmatchIndex(s, -1) {
			name := s[m[2]:m[3]]
			if canonical := matchCanonical(name); canonical != "" {
				bounds = append(bounds, boundary{canonical, m[1], m[0]})
			}
		}
	}
	if len(bounds) == 0 {
		return nil, false
	}

	n := &SOAPNote{}
	for i, b := range bounds {
		end := len(s)
		if i+1 < len(bounds) {
			end = bounds[i+1].headerPos
		}
		content := strings.TrimSpace(s[b.start:end])
		if existing := n.Get(b.canonical); existing != "" {
			content = existing + "\n\n" + content
		}
		n.set(b.canonical, content)
	}
	return n, true
}
