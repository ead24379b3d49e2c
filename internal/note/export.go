package note

import (
	"bytes"
	"encoding/json"
)

// ExportStructured serializes a note as the canonical structured-data
// snapshot: a JSON object with exactly the keys subjective, objective,
// assessment, plan, each a string. The encoding is deterministic, so
// repeated exports of the same note are byte-identical.
//
// This is a side channel independent of document generation: it succeeds
// even when no document was produced.
func ExportStructured(n *SOAPNote) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	// Keep non-ASCII clinical text readable in the export.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
