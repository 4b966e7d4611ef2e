package output

import (
	"encoding/json"
	"io"
)

// PrintJSON writes data to w as indented JSON, the machine-readable
// form of report and verification output.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
