// Package grading holds the text contract between this service and the grading model:
// the prompt instructions, the rubric encoding placed in the prompt, and the parser that
// reads the model's answer back into criterion results. The instructions in prompt.go and
// the grammar in feedback_parser.go must change together.
package grading
