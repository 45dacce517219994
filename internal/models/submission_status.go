package models

import "errors"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	// SubmissionStatusOpen means no document has been uploaded yet.
	SubmissionStatusOpen SubmissionStatus = "open"
	// SubmissionStatusSubmitted indicates the document was uploaded and awaits grading.
	SubmissionStatusSubmitted SubmissionStatus = "submitted"
	// SubmissionStatusGrading indicates a grading attempt is in flight.
	SubmissionStatusGrading SubmissionStatus = "grading"
	// SubmissionStatusGraded indicates the submission carries parsed feedback.
	SubmissionStatusGraded SubmissionStatus = "graded"
	// SubmissionStatusRegrade indicates a teacher re-queued a graded submission.
	SubmissionStatusRegrade SubmissionStatus = "regrade"
	// SubmissionStatusError indicates the last grading attempt failed.
	SubmissionStatusError SubmissionStatus = "error"
)

// ErrInvalidTransition is returned when a status change is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid submission status transition")

var submissionTransitions = map[SubmissionStatus][]SubmissionStatus{
	SubmissionStatusOpen:      {SubmissionStatusSubmitted},
	SubmissionStatusSubmitted: {SubmissionStatusGrading},
	SubmissionStatusRegrade:   {SubmissionStatusGrading},
	SubmissionStatusError:     {SubmissionStatusGrading},
	SubmissionStatusGrading:   {SubmissionStatusGraded, SubmissionStatusError},
	SubmissionStatusGraded:    {SubmissionStatusRegrade},
}

// AllSubmissionStatuses lists every known status in lifecycle order.
func AllSubmissionStatuses() []SubmissionStatus {
	return []SubmissionStatus{
		SubmissionStatusOpen,
		SubmissionStatusSubmitted,
		SubmissionStatusGrading,
		SubmissionStatusGraded,
		SubmissionStatusRegrade,
		SubmissionStatusError,
	}
}

// IsValid reports whether the status is part of the known vocabulary.
func (s SubmissionStatus) IsValid() bool {
	_, ok := submissionTransitions[s]
	return ok
}

// Gradable reports whether a grading attempt may start from this status.
func (s SubmissionStatus) Gradable() bool {
	return CanTransition(s, SubmissionStatusGrading)
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range submissionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status that may legally transition into target.
func SourcesFor(target SubmissionStatus) []SubmissionStatus {
	sources := make([]SubmissionStatus, 0, 3)
	for _, status := range AllSubmissionStatuses() {
		if CanTransition(status, target) {
			sources = append(sources, status)
		}
	}
	return sources
}
