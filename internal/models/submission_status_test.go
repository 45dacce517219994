package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to SubmissionStatus
		allowed  bool
	}{
		{SubmissionStatusOpen, SubmissionStatusSubmitted, true},
		{SubmissionStatusSubmitted, SubmissionStatusGrading, true},
		{SubmissionStatusRegrade, SubmissionStatusGrading, true},
		{SubmissionStatusError, SubmissionStatusGrading, true},
		{SubmissionStatusGrading, SubmissionStatusGraded, true},
		{SubmissionStatusGrading, SubmissionStatusError, true},
		{SubmissionStatusGraded, SubmissionStatusRegrade, true},
		{SubmissionStatusGraded, SubmissionStatusGrading, false},
		{SubmissionStatusGrading, SubmissionStatusGrading, false},
		{SubmissionStatusOpen, SubmissionStatusGrading, false},
		{SubmissionStatusSubmitted, SubmissionStatusGraded, false},
		{SubmissionStatusError, SubmissionStatusRegrade, false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSourcesForGrading(t *testing.T) {
	require.Equal(t, []SubmissionStatus{SubmissionStatusSubmitted, SubmissionStatusRegrade, SubmissionStatusError}, SourcesFor(SubmissionStatusGrading))
	require.Equal(t, []SubmissionStatus{SubmissionStatusGraded}, SourcesFor(SubmissionStatusRegrade))
}

func TestSubmissionStatusVocabulary(t *testing.T) {
	require.True(t, SubmissionStatusError.IsValid())
	require.False(t, SubmissionStatus("pending").IsValid())
	require.True(t, SubmissionStatusError.Gradable())
	require.False(t, SubmissionStatusGraded.Gradable())
	require.False(t, SubmissionStatusGrading.Gradable())
}
