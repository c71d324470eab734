package repository

import (
	"context"
	"eduflex_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type CourseRepository struct {
	DB *gorm.DB
}

func NewCourseRepository(db *gorm.DB) *CourseRepository {
	return &CourseRepository{DB: db}
}

func (r *CourseRepository) CreateCourse(ctx context.Context, c *model.Course) error {
	return r.DB.WithContext(ctx).Create(c).Error
}

func (r *CourseRepository) CreateModule(ctx context.Context, m *model.Module) error {
	return r.DB.WithContext(ctx).Create(m).Error
}

func (r *CourseRepository) CreateTopic(ctx context.Context, t *model.Topic) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *CourseRepository) FindCourseByID(ctx context.Context, id uint) (*model.Course, error) {
	var c model.Course
	err := r.DB.WithContext(ctx).First(&c, id).Error
	return &c, err
}

func (r *CourseRepository) FindCourseByName(ctx context.Context, name string) (*model.Course, error) {
	var c model.Course
	err := r.DB.WithContext(ctx).Where("name = ?", name).First(&c).Error
	return &c, err
}

func (r *CourseRepository) FindModuleByID(ctx context.Context, id uint) (*model.Module, error) {
	var m model.Module
	err := r.DB.WithContext(ctx).First(&m, id).Error
	return &m, err
}

// ListModules 返回课程下的模块，按 position、id 排序
func (r *CourseRepository) ListModules(ctx context.Context, courseID uint) ([]model.Module, error) {
	var ms []model.Module
	err := r.DB.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("position asc, id asc").
		Find(&ms).Error
	return ms, err
}

func (r *CourseRepository) ListTopics(ctx context.Context, moduleID uint) ([]model.Topic, error) {
	var ts []model.Topic
	err := r.DB.WithContext(ctx).
		Where("module_id = ?", moduleID).
		Order("position asc, id asc").
		Find(&ts).Error
	return ts, err
}

func (r *CourseRepository) FindTopicsByIDs(ctx context.Context, ids []uint) (map[uint]model.Topic, error) {
	out := make(map[uint]model.Topic, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var ts []model.Topic
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&ts).Error; err != nil {
		return nil, err
	}
	for _, t := range ts {
		out[t.ID] = t
	}
	return out, nil
}

func (r *CourseRepository) FindEnrollment(ctx context.Context, courseID, userID uint) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		First(&e).Error
	return &e, err
}

func (r *CourseRepository) IsEnrolled(ctx context.Context, courseID, userID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *CourseRepository) CreateEnrollment(ctx context.Context, courseID, userID uint) (*model.Enrollment, error) {
	e := &model.Enrollment{
		CourseID:    courseID,
		UserID:      userID,
		DateStarted: time.Now(),
	}
	err := r.DB.WithContext(ctx).Create(e).Error
	return e, err
}

// DeleteEnrollment 物理删除，避免与 (course_id, user_id) 唯一索引冲突
func (r *CourseRepository) DeleteEnrollment(ctx context.Context, courseID, userID uint) (int64, error) {
	res := r.DB.WithContext(ctx).Unscoped().
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Delete(&model.Enrollment{})
	return res.RowsAffected, res.Error
}

func (r *CourseRepository) ListEnrolledCourseIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.Enrollment{}).
		Where("user_id = ?", userID).
		Order("course_id asc").
		Pluck("course_id", &ids).Error
	return ids, err
}
