package grading

import (
	"strconv"
	"strings"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

const (
	criteriaNamePrefix = "**Criteria Name**:"
	scorePrefix        = "**Score**:"
	commentsPrefix     = "**Comments/suggestions**:"
)

// ParseFeedback reads the grading model's answer into criterion results in emission order.
//
// Each block opens with a "Criteria Name" line; "Score" and "Comments/suggestions" lines
// fill the open block. Lines that match no prefix, and Score/Comments lines seen before any
// block was opened, are ignored. Fields missing from a block stay unset.
func ParseFeedback(text string) []models.CriterionResult {
	results := make([]models.CriterionResult, 0)

	var current *models.CriterionResult
	flush := func() {
		if current != nil {
			results = append(results, *current)
			current = nil
		}
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		switch {
		case strings.HasPrefix(line, criteriaNamePrefix):
			flush()
			name := stripEmphasis(strings.TrimPrefix(line, criteriaNamePrefix))
			current = &models.CriterionResult{Name: name}
		case strings.HasPrefix(line, scorePrefix):
			if current == nil {
				continue
			}
			score, total, ok := parseScore(strings.TrimPrefix(line, scorePrefix))
			if ok {
				current.Score = score
				current.Total = total
			}
		case strings.HasPrefix(line, commentsPrefix):
			if current == nil {
				continue
			}
			comments := strings.TrimSpace(strings.TrimPrefix(line, commentsPrefix))
			current.Comments = &comments
		}
	}
	flush()

	return results
}

// FormatFeedback renders results in the block format ParseFeedback reads.
func FormatFeedback(results []models.CriterionResult) string {
	var builder strings.Builder
	for i, result := range results {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(criteriaNamePrefix + " **" + result.Name + "**\n\n")
		builder.WriteString(scorePrefix + " **" + strconv.FormatFloat(result.Score, 'f', -1, 64) + "/" + strconv.Itoa(result.Total) + "**")
		if result.Comments != nil {
			builder.WriteString("\n\n" + commentsPrefix + " " + *result.Comments)
		}
	}
	return builder.String()
}

func stripEmphasis(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "*", ""))
}

// parseScore reads "<score>/<total>". The score may carry half points; the total is an integer.
func parseScore(value string) (float64, int, bool) {
	parts := strings.SplitN(stripEmphasis(value), "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}

	totalText := strings.TrimSpace(parts[1])
	total, err := strconv.Atoi(totalText)
	if err != nil {
		// Models occasionally print "5.0"; accept it only when integral.
		asFloat, floatErr := strconv.ParseFloat(totalText, 64)
		if floatErr != nil || asFloat != float64(int(asFloat)) {
			return 0, 0, false
		}
		total = int(asFloat)
	}

	return score, total, true
}
