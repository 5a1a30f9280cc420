package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentLoggerCarriesName(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	l := Component("Encoder")
	l.Debug().Msg("模型加载完成")

	assert.Contains(t, buf.String(), `"component":"Encoder"`)
	assert.Contains(t, buf.String(), "模型加载完成")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})

	l := Logger()
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
