package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scoreLine struct {
	Component string  `json:"component"`
	Score     float64 `json:"score"`
}

func TestPrintJSON(t *testing.T) {
	data := scoreLine{Component: "signature_validity", Score: 38.5}

	var buf bytes.Buffer
	err := PrintJSON(&buf, data)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"component": "signature_validity"`)
	assert.Contains(t, out, `"score": 38.5`)
}

func TestPrintJSONArray(t *testing.T) {
	data := []scoreLine{
		{Component: "tsa_coverage", Score: 20},
		{Component: "archive_presence", Score: 18},
	}

	var buf bytes.Buffer
	err := PrintJSON(&buf, data)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"component": "tsa_coverage"`)
	assert.Contains(t, out, `"component": "archive_presence"`)
}
