package grading

import (
	"strings"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

const gradingInstructions = `You are grading a student's submission against the rubric below.
For every rubric criterion, in rubric order, output exactly these three lines and nothing else:

**Criteria Name**: <criterion name>
**Score**: **<score>/<criterion maximum points>**
**Comments/suggestions**: <one paragraph of feedback on a single line>

Scores may use half points. Do not add headings, summaries or totals.`

const handwritingAddendum = `The submission was transcribed from handwriting. Do not penalise spelling or
layout mistakes that are likely transcription artefacts; grade the content the student intended.`

const rubricAuthoringInstructions = "Convert the grading rubric below into JSON. Respond with a single fenced ```json code block " +
	"containing an array of objects shaped as {\"name\": string, \"values\": [{\"point\": number, \"description\": string}]}. " +
	"Keep the criteria in document order and list each criterion's levels from highest to lowest points."

// BuildGradingPrompt assembles the single user turn sent to the grading model.
func BuildGradingPrompt(rubric models.Rubric, submissionText string, handwriting bool) string {
	var builder strings.Builder
	builder.WriteString(gradingInstructions)
	if handwriting {
		builder.WriteString("\n\n")
		builder.WriteString(handwritingAddendum)
	}
	builder.WriteString("\n\n## Rubric\n")
	builder.WriteString(EncodeRubric(rubric))
	builder.WriteString("\n\n## Submission\n")
	builder.WriteString(submissionText)
	return builder.String()
}

// BuildRubricPrompt asks the model to turn a rubric document into structured JSON.
func BuildRubricPrompt(documentText string) string {
	return rubricAuthoringInstructions + "\n\n## Rubric document\n" + documentText
}
