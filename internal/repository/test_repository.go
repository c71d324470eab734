package repository

import (
	"context"
	"eduflex_backend/internal/model"

	"gorm.io/gorm"
)

type TestRepository struct {
	DB *gorm.DB
}

func NewTestRepository(db *gorm.DB) *TestRepository {
	return &TestRepository{DB: db}
}

func withQuestions(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position asc, id asc")
		}).
		Preload("Questions.Answers", func(db *gorm.DB) *gorm.DB {
			return db.Order("id asc")
		})
}

// Create 连同题目和选项一并写入
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *TestRepository) FindByID(ctx context.Context, id uint) (*model.Test, error) {
	var t model.Test
	err := r.DB.WithContext(ctx).First(&t, id).Error
	return &t, err
}

// FindWithQuestions 加载测试及其题目、选项；tx 可为 nil
func (r *TestRepository) FindWithQuestions(ctx context.Context, tx *gorm.DB, id uint) (*model.Test, error) {
	var t model.Test
	err := withQuestions(conn(ctx, r.DB, tx)).First(&t, id).Error
	return &t, err
}

// ListByModules 返回这些模块下的测试（含题目）
func (r *TestRepository) ListByModules(ctx context.Context, moduleIDs []uint) ([]model.Test, error) {
	var ts []model.Test
	if len(moduleIDs) == 0 {
		return ts, nil
	}
	err := withQuestions(r.DB.WithContext(ctx)).
		Where("module_id IN ?", moduleIDs).
		Order("id asc").
		Find(&ts).Error
	return ts, err
}

// ListByCourse 返回直接挂在课程上的测试（含题目）
func (r *TestRepository) ListByCourse(ctx context.Context, courseID uint) ([]model.Test, error) {
	var ts []model.Test
	err := withQuestions(r.DB.WithContext(ctx)).
		Where("course_id = ?", courseID).
		Order("id asc").
		Find(&ts).Error
	return ts, err
}

type topicWeightRow struct {
	TopicID uint
	Weight  int
}

// TopicWeights 每个主题关联的可自动评分题目分值之和；待人工批改的开放题不计入
func (r *TestRepository) TopicWeights(ctx context.Context, topicIDs []uint) (map[uint]int, error) {
	out := make(map[uint]int, len(topicIDs))
	if len(topicIDs) == 0 {
		return out, nil
	}
	var rows []topicWeightRow
	err := r.DB.WithContext(ctx).Model(&model.Question{}).
		Select("topic_id, SUM(complexity_points) AS weight").
		Where("topic_id IN ?", topicIDs).
		Where("type <> ? OR canonical_answer <> ''", model.QuestionOpenText).
		Group("topic_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.TopicID] = row.Weight
	}
	return out, nil
}

// HasGradableInModules 这些模块下是否存在可自动评分的模块测试题
func (r *TestRepository) HasGradableInModules(ctx context.Context, moduleIDs []uint) (bool, error) {
	if len(moduleIDs) == 0 {
		return false, nil
	}
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Question{}).
		Joins("JOIN tests ON tests.id = questions.test_id AND tests.deleted_at IS NULL").
		Where("tests.module_id IN ?", moduleIDs).
		Where("questions.type <> ? OR questions.canonical_answer <> ''", model.QuestionOpenText).
		Count(&count).Error
	return count > 0, err
}
