package repository

import (
	"context"
	"eduflex_backend/internal/model"

	"gorm.io/gorm"
)

// AttemptRepository 只追加：没有更新和删除接口
type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

func (r *AttemptRepository) Create(ctx context.Context, tx *gorm.DB, a *model.Attempt) error {
	return conn(ctx, r.DB, tx).Create(a).Error
}

// MaxOrdinal 返回该用户在该测试上的最大序号，无记录时为 0
func (r *AttemptRepository) MaxOrdinal(ctx context.Context, tx *gorm.DB, userID, testID uint) (int, error) {
	var max int
	err := conn(ctx, r.DB, tx).Model(&model.Attempt{}).
		Where("user_id = ? AND test_id = ?", userID, testID).
		Select("COALESCE(MAX(ordinal), 0)").
		Scan(&max).Error
	return max, err
}

// HasPerfect 按原始分数判断满分，四舍五入到 100 的不算
func (r *AttemptRepository) HasPerfect(ctx context.Context, tx *gorm.DB, userID, testID uint) (bool, error) {
	var count int64
	err := conn(ctx, r.DB, tx).Model(&model.Attempt{}).
		Where("user_id = ? AND test_id = ?", userID, testID).
		Where("max_score > 0 AND score >= max_score").
		Count(&count).Error
	return count > 0, err
}

// LatestID 用户最近一次尝试的 ID，无记录时为 0
func (r *AttemptRepository) LatestID(ctx context.Context, userID uint) (uint, error) {
	var id uint
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("user_id = ?", userID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	return id, err
}

func (r *AttemptRepository) CountByUserTest(ctx context.Context, userID, testID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Attempt{}).
		Where("user_id = ? AND test_id = ?", userID, testID).
		Count(&count).Error
	return count, err
}

func (r *AttemptRepository) FindByID(ctx context.Context, id uint) (*model.Attempt, error) {
	var a model.Attempt
	err := r.DB.WithContext(ctx).First(&a, id).Error
	return &a, err
}

// ListByUserTests 按测试分组，组内按序号升序
func (r *AttemptRepository) ListByUserTests(ctx context.Context, userID uint, testIDs []uint) (map[uint][]model.Attempt, error) {
	out := make(map[uint][]model.Attempt, len(testIDs))
	if len(testIDs) == 0 {
		return out, nil
	}
	var as []model.Attempt
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND test_id IN ?", userID, testIDs).
		Order("test_id asc, ordinal asc").
		Find(&as).Error
	if err != nil {
		return nil, err
	}
	for _, a := range as {
		out[a.TestID] = append(out[a.TestID], a)
	}
	return out, nil
}

func (r *AttemptRepository) ListByUser(ctx context.Context, userID uint) ([]model.Attempt, error) {
	var as []model.Attempt
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("submitted_at desc, id desc").
		Find(&as).Error
	return as, err
}

// ListByTest 最新的在前
func (r *AttemptRepository) ListByTest(ctx context.Context, testID uint) ([]model.Attempt, error) {
	var as []model.Attempt
	err := r.DB.WithContext(ctx).
		Where("test_id = ?", testID).
		Order("submitted_at desc, id desc").
		Find(&as).Error
	return as, err
}
