package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// ErrRubricParse indicates a model's rubric answer could not be decoded.
var ErrRubricParse = errors.New("rubric parse failed")

var fencedBlock = regexp.MustCompile("(?s)```[ \\t]*(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")

// EncodeRubric renders the rubric as prompt context: one block per criterion, the name on
// the first line and one "point: description" line per level, blocks separated by a blank line.
func EncodeRubric(rubric models.Rubric) string {
	blocks := make([]string, 0, len(rubric))
	for _, criterion := range rubric {
		var builder strings.Builder
		builder.WriteString(criterion.Name)
		for _, value := range criterion.Values {
			builder.WriteString("\n")
			builder.WriteString(strconv.FormatFloat(value.Point, 'f', -1, 64))
			builder.WriteString(": ")
			builder.WriteString(value.Description)
		}
		blocks = append(blocks, builder.String())
	}
	return strings.Join(blocks, "\n\n")
}

// DecodeRubricFromModelOutput extracts the first fenced code block from text and decodes it
// as a JSON array of criteria.
func DecodeRubricFromModelOutput(text string) (models.Rubric, error) {
	match := fencedBlock.FindStringSubmatch(text)
	if match == nil {
		return nil, fmt.Errorf("%w: no fenced code block found", ErrRubricParse)
	}

	body := bytes.TrimSpace([]byte(match[1]))
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrRubricParse)
	}

	var rubric models.Rubric
	if err := json.Unmarshal(body, &rubric); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRubricParse, err)
	}

	if err := ValidateRubric(rubric); err != nil {
		return nil, err
	}

	return rubric, nil
}

// ValidateRubric checks the structural rules shared by decoded and teacher-supplied rubrics.
func ValidateRubric(rubric models.Rubric) error {
	if len(rubric) == 0 {
		return fmt.Errorf("%w: rubric has no criteria", ErrRubricParse)
	}
	for i, criterion := range rubric {
		if strings.TrimSpace(criterion.Name) == "" {
			return fmt.Errorf("%w: criterion %d has no name", ErrRubricParse, i)
		}
		if len(criterion.Values) == 0 {
			return fmt.Errorf("%w: criterion %q has no values", ErrRubricParse, criterion.Name)
		}
	}
	return nil
}
