package note

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestExportStructured_ExactKeys(t *testing.T) {
	n := &SOAPNote{Subjective: "dolor de cabeza"}

	data, err := ExportStructured(n)
	if err != nil {
		t.Fatalf("ExportStructured failed: %v", err)
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	if len(m) != 4 {
		t.Errorf("export has %d keys, want 4", len(m))
	}
	for _, key := range []string{"subjective", "objective", "assessment", "plan"} {
		if _, ok := m[key]; !ok {
			t.Errorf("export missing key %q", key)
		}
	}
	if m["subjective"] != "dolor de cabeza" {
		t.Errorf("subjective = %q", m["subjective"])
	}
	if m["objective"] != "" {
		t.Errorf("objective = %q, want empty string", m["objective"])
	}
}

func TestExportStructured_Idempotent(t *testing.T) {
	n := &SOAPNote{
		Subjective: "Paciente refiere dolor de cabeza",
		Objective:  "TA 120/80",
		Assessment: "Cefalea",
		Plan:       "Paracetamol",
	}

	first, err := ExportStructured(n)
	if err != nil {
		t.Fatalf("ExportStructured failed: %v", err)
	}
	second, err := ExportStructured(n)
	if err != nil {
		t.Fatalf("ExportStructured failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("repeated exports of the same note are not byte-identical")
	}
}

func TestExportStructured_NoHTMLEscaping(t *testing.T) {
	n := &SOAPNote{Plan: "reposo > 48h"}

	data, err := ExportStructured(n)
	if err != nil {
		t.Fatalf("ExportStructured failed: %v", err)
	}
	if !strings.Contains(string(data), "reposo > 48h") {
		t.Errorf("export escaped clinical text: %s", data)
	}
}

func TestMarkdown_FixedOrderWithEmptySections(t *testing.T) {
	n := &SOAPNote{Subjective: "fiebre"}

	md := Markdown(n)

	wantOrder := []string{"## Subjetivo (S)", "## Objetivo (O)", "## Evaluación (A)", "## Plan (P)"}
	last := -1
	for _, heading := range wantOrder {
		idx := strings.Index(md, heading)
		if idx == -1 {
			t.Fatalf("markdown missing heading %q:\n%s", heading, md)
		}
		if idx < last {
			t.Errorf("heading %q out of order", heading)
		}
		last = idx
	}
	if !strings.Contains(md, "fiebre") {
		t.Error("markdown missing section content")
	}
}
