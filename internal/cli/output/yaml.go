package output

import (
	"io"

	"gopkg.in/yaml.v3"
)

// PrintYAML writes data to w as YAML, matching the configuration file
// format so `config show` output can be pasted back into a config.
func PrintYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(data)
}
