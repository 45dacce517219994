package grading

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildGradingPromptOrder(t *testing.T) {
	prompt := BuildGradingPrompt(sampleRubric(), "My essay text.", false)

	instructions := strings.Index(prompt, criteriaNamePrefix)
	rubric := strings.Index(prompt, "Grammar\n5: No errors")
	submission := strings.Index(prompt, "My essay text.")

	require.True(t, instructions >= 0 && instructions < rubric && rubric < submission)
	require.NotContains(t, prompt, "handwriting")
}

func TestBuildGradingPromptHandwriting(t *testing.T) {
	prompt := BuildGradingPrompt(sampleRubric(), "scan", true)
	require.Contains(t, prompt, "transcribed from handwriting")
}

func TestPromptDocumentsEveryParserPrefix(t *testing.T) {
	for _, prefix := range []string{criteriaNamePrefix, scorePrefix, commentsPrefix} {
		require.Contains(t, gradingInstructions, prefix)
	}
}
