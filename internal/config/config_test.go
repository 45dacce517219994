package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesGradingDefaults(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_AI_PROVIDER", "Gemini")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.AIProvider)
	require.Equal(t, "gemini", cfg.AIVisionProvider)
	require.Equal(t, 4, cfg.GradingWorkers)
	require.Equal(t, 2*time.Minute, cfg.GradingTaskTimeout)
	require.Equal(t, 30*time.Minute, cfg.GradingBatchTimeout)
	require.Equal(t, 30*time.Second, cfg.ExtractFetchTimeout)
	require.Equal(t, 20, cfg.ExtractMaxDocumentMB)
	require.Equal(t, "grading.submission.settled", cfg.NATSSubject)
	require.Equal(t, []string{"res.cloudinary.com"}, cfg.RubricAllowedHosts)
	require.Equal(t, ":8080", cfg.HTTPAddress())
}

func TestLoadRubricAllowedHosts(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_RUBRIC_ALLOWED_HOSTS", " Files.School.edu, ,res.cloudinary.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"files.school.edu", "res.cloudinary.com"}, cfg.RubricAllowedHosts)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("GEMA_JWT_SECRET", "")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("GEMA_JWT_SECRET", "secret")
		t.Setenv("GEMA_AI_PROVIDER", "llama")
		_, err := Load()
		require.ErrorContains(t, err, "unsupported ai provider")
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("GEMA_JWT_SECRET", "secret")
		t.Setenv("GEMA_GRADING_TASK_TIMEOUT", "soon")
		_, err := Load()
		require.ErrorContains(t, err, "grading.task_timeout")
	})
}
