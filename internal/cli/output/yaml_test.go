package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintYAML(t *testing.T) {
	data := struct {
		SyslogPort    int `yaml:"syslog_port"`
		RetentionDays int `yaml:"retention_days"`
	}{
		SyslogPort:    514,
		RetentionDays: 730,
	}

	var buf bytes.Buffer
	err := PrintYAML(&buf, data)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "syslog_port: 514")
	assert.Contains(t, out, "retention_days: 730")
}

func TestPrintYAMLArray(t *testing.T) {
	data := []struct {
		Device string `yaml:"device"`
	}{
		{Device: "firewall-hq"},
		{Device: "core-switch"},
	}

	var buf bytes.Buffer
	err := PrintYAML(&buf, data)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "- device: firewall-hq")
	assert.Contains(t, out, "- device: core-switch")
}
