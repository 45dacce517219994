package dto

import (
	"time"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// CriterionValuePayload is one achievement level in a rubric payload.
type CriterionValuePayload struct {
	Point       float64 `json:"point" validate:"gte=0"`
	Description string  `json:"description" validate:"required,max=2000"`
}

// CriterionPayload is one rubric criterion in a request body.
type CriterionPayload struct {
	Name   string                  `json:"name" validate:"required,max=255"`
	Values []CriterionValuePayload `json:"values" validate:"required,min=1,dive"`
}

// AssignmentCreateRequest describes the payload for creating a new assignment.
type AssignmentCreateRequest struct {
	Name    string             `json:"name" validate:"required,min=3,max=255"`
	DueDate string             `json:"due_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Rubric  []CriterionPayload `json:"rubric" validate:"omitempty,dive"`
}

// AssignmentListRequest defines filters for listing the caller's assignments.
type AssignmentListRequest struct {
	Search   string `query:"search"`
	Sort     string `query:"sort"`
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	PageSize int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
}

// RubricUpdateRequest replaces an assignment rubric.
type RubricUpdateRequest struct {
	Criteria []CriterionPayload `json:"criteria" validate:"required,min=1,dive"`
}

// RubricImportRequest points at a rubric document to convert into structured criteria.
type RubricImportRequest struct {
	DocumentRef string `json:"document_ref" validate:"required,max=1024"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID              uint               `json:"id"`
	Name            string             `json:"name"`
	TeacherID       uint               `json:"teacher_id"`
	DueDate         time.Time          `json:"due_date"`
	Rubric          []models.Criterion `json:"rubric"`
	SubmissionCount *int               `json:"submission_count,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// AssignmentListResponse wraps a page of assignments.
type AssignmentListResponse struct {
	Items      []AssignmentResponse `json:"items"`
	Pagination PaginationMeta       `json:"pagination"`
}

// NewAssignmentResponse converts a model into a DTO.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	rubric := []models.Criterion(model.Rubric)
	if rubric == nil {
		rubric = []models.Criterion{}
	}

	response := AssignmentResponse{
		ID:        model.ID,
		Name:      model.Name,
		TeacherID: model.TeacherID,
		DueDate:   model.DueDate,
		Rubric:    rubric,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}

	if model.Submissions != nil {
		count := len(model.Submissions)
		response.SubmissionCount = &count
	}

	return response
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment))
	}

	return responses
}

// RubricFromPayload converts request criteria into the stored rubric.
func RubricFromPayload(criteria []CriterionPayload) models.Rubric {
	rubric := make(models.Rubric, 0, len(criteria))
	for _, criterion := range criteria {
		values := make([]models.CriterionValue, 0, len(criterion.Values))
		for _, value := range criterion.Values {
			values = append(values, models.CriterionValue{Point: value.Point, Description: value.Description})
		}
		rubric = append(rubric, models.Criterion{Name: criterion.Name, Values: values})
	}
	return rubric
}
