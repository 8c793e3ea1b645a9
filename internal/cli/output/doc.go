// Package output renders command results for chatdesk.
//
// Three formats are supported: an aligned table for people and JSON or
// YAML for scripts. Table headers and cells are derived from struct tags:
//
//	type row struct {
//		ID    string `json:"document_id" table:"ID"`
//		Extra string `json:"extra" table:"EXTRA,wide"`
//		Raw   string `json:"-"`
//	}
//
// Fields tagged "wide" only appear with --wide. Long cells are cut to
// TableFormatter.MaxWidth.
//
// Spinner and ProgressBar draw on stderr while slow requests run. Both
// are no-ops for structured formats so stdout stays machine-readable.
package output
