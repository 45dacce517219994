package grading

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

func sampleRubric() models.Rubric {
	return models.Rubric{
		{Name: "Grammar", Values: []models.CriterionValue{
			{Point: 5, Description: "No errors"},
			{Point: 2.5, Description: "Some errors"},
			{Point: 0, Description: "Many errors"},
		}},
		{Name: "Structure", Values: []models.CriterionValue{
			{Point: 5, Description: "Clear paragraphs"},
			{Point: 0, Description: "No structure"},
		}},
	}
}

func TestEncodeRubric(t *testing.T) {
	encoded := EncodeRubric(sampleRubric())

	require.Equal(t, "Grammar\n5: No errors\n2.5: Some errors\n0: Many errors\n\nStructure\n5: Clear paragraphs\n0: No structure", encoded)
	require.Equal(t, encoded, EncodeRubric(sampleRubric()))
	require.Empty(t, EncodeRubric(nil))
}

func TestDecodeRubricFromJSONFence(t *testing.T) {
	text := "Sure! Here is the rubric:\n```json\n[{\"name\":\"Grammar\",\"values\":[{\"point\":5,\"description\":\"No errors\"},{\"point\":2.5,\"description\":\"Some errors\"},{\"point\":0,\"description\":\"Many errors\"}]},{\"name\":\"Structure\",\"values\":[{\"point\":5,\"description\":\"Clear paragraphs\"},{\"point\":0,\"description\":\"No structure\"}]}]\n```\nLet me know if you need changes."

	rubric, err := DecodeRubricFromModelOutput(text)
	require.NoError(t, err)
	require.Equal(t, sampleRubric(), rubric)
	require.Equal(t, 5.0, rubric[0].MaxPoint())
}

func TestDecodeRubricFromPlainFence(t *testing.T) {
	text := "```\n[{\"name\":\"Focus\",\"values\":[{\"point\":3,\"description\":\"On topic\"}]}]```"

	rubric, err := DecodeRubricFromModelOutput(text)
	require.NoError(t, err)
	require.Len(t, rubric, 1)
	require.Equal(t, "Focus", rubric[0].Name)
}

func TestDecodeRubricFailures(t *testing.T) {
	cases := map[string]string{
		"no fence":       "[{\"name\":\"Grammar\",\"values\":[{\"point\":5,\"description\":\"x\"}]}]",
		"not an array":   "```json\n{\"name\":\"Grammar\"}\n```",
		"invalid json":   "```json\n[{\"name\":\"Grammar\",\n```",
		"wrong types":    "```json\n[{\"name\":\"Grammar\",\"values\":[{\"point\":\"five\",\"description\":\"x\"}]}]\n```",
		"empty array":    "```json\n[]\n```",
		"missing name":   "```json\n[{\"values\":[{\"point\":5,\"description\":\"x\"}]}]\n```",
		"missing values": "```json\n[{\"name\":\"Grammar\"}]\n```",
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRubricFromModelOutput(text)
			require.ErrorIs(t, err, ErrRubricParse)
		})
	}
}
