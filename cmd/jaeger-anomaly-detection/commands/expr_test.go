package commands_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ContinuousC/JaegerAnomalyDetection/cmd/jaeger-anomaly-detection/commands"
)

func TestExprCommand_GeneratesExpressions(t *testing.T) {
	t.Parallel()

	cmd := commands.NewExprCommand()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--type", "duration", "--service", "checkout"})

	require.NoError(t, cmd.Execute())

	var result struct {
		Count string `json:"count"`
		Score string `json:"score"`
	}

	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Contains(t, result.Count, `trace_duration{service_name="checkout"}`)
	assert.Contains(t, result.Score, "clamp_min")
}

func TestExprCommand_CustomWindows(t *testing.T) {
	t.Parallel()

	cmd := commands.NewExprCommand()

	var out bytes.Buffer

	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--type", "error_rate", "--immediate", "10m", "--reference", "2w"})

	require.NoError(t, cmd.Execute())

	var result struct {
		Count string `json:"count"`
		Score string `json:"score"`
	}

	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Contains(t, result.Count, "[10m]")
	assert.Contains(t, result.Score, "[2w]")
}

func TestExprCommand_UnknownType(t *testing.T) {
	t.Parallel()

	cmd := commands.NewExprCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--type", "latency"})

	assert.Error(t, cmd.Execute())
}

func TestExprCommand_BadDuration(t *testing.T) {
	t.Parallel()

	cmd := commands.NewExprCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--immediate", "soon"})

	assert.Error(t, cmd.Execute())
}
