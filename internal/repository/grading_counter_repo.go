package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grading-api/internal/models"
)

// GradingCounter tracks how many submissions were graded on behalf of each teacher.
// Increment must be atomic across concurrent callers.
type GradingCounter interface {
	Increment(ctx context.Context, teacherID uint) (int64, error)
	Get(ctx context.Context, teacherID uint) (int64, error)
}

type redisGradingCounter struct {
	client *redis.Client
}

// NewRedisGradingCounter stores counters as plain Redis integers updated with INCR.
func NewRedisGradingCounter(client *redis.Client) GradingCounter {
	return &redisGradingCounter{client: client}
}

func gradingCounterKey(teacherID uint) string {
	return fmt.Sprintf("grading:teacher:%d:graded", teacherID)
}

func (c *redisGradingCounter) Increment(ctx context.Context, teacherID uint) (int64, error) {
	return c.client.Incr(ctx, gradingCounterKey(teacherID)).Result()
}

func (c *redisGradingCounter) Get(ctx context.Context, teacherID uint) (int64, error) {
	count, err := c.client.Get(ctx, gradingCounterKey(teacherID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return count, err
}

type sqlGradingCounter struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLGradingCounter keeps counters in teacher_grading_stats using an upsert increment.
func NewSQLGradingCounter(db *gorm.DB) GradingCounter {
	return &sqlGradingCounter{db: db, now: time.Now}
}

func (c *sqlGradingCounter) Increment(ctx context.Context, teacherID uint) (int64, error) {
	var count int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := c.now()
		stat := models.TeacherGradingStat{TeacherID: teacherID, GradedCount: 1, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "teacher_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"graded_count": gorm.Expr("teacher_grading_stats.graded_count + 1"),
				"updated_at":   now,
			}),
		}).Create(&stat).Error; err != nil {
			return err
		}

		return tx.Model(&models.TeacherGradingStat{}).
			Select("graded_count").
			Where("teacher_id = ?", teacherID).
			Scan(&count).Error
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (c *sqlGradingCounter) Get(ctx context.Context, teacherID uint) (int64, error) {
	var stat models.TeacherGradingStat
	err := c.db.WithContext(ctx).First(&stat, "teacher_id = ?", teacherID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return stat.GradedCount, nil
}
