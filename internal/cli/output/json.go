package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

// Format writes data as JSON. HTML characters are not escaped so message
// bodies round-trip unchanged.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	if t, ok := asTable(data); ok {
		data = t.Records()
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}
