package models

// Rubric is the ordered list of criteria a submission is graded against.
type Rubric []Criterion

// Criterion is a named rubric row with its achievement levels.
type Criterion struct {
	Name   string           `json:"name"`
	Values []CriterionValue `json:"values"`
}

// CriterionValue is a single achievement level within a criterion.
type CriterionValue struct {
	Point       float64 `json:"point"`
	Description string  `json:"description"`
}

// MaxPoint returns the achievable total of the criterion.
func (c Criterion) MaxPoint() float64 {
	var max float64
	for i, value := range c.Values {
		if i == 0 || value.Point > max {
			max = value.Point
		}
	}
	return max
}

// CriterionResult is one scored, commented outcome produced by grading.
type CriterionResult struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Total    int     `json:"total"`
	Comments *string `json:"comments"`
}
