package service

import (
	"context"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/util"
	"eduflex_backend/pkg/logger"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type EnrollmentService struct {
	CourseRepo  *repository.CourseRepository
	Aggregation *AggregationService
}

func NewEnrollmentService(courseRepo *repository.CourseRepository, aggregation *AggregationService) *EnrollmentService {
	return &EnrollmentService{CourseRepo: courseRepo, Aggregation: aggregation}
}

func (s *EnrollmentService) Enroll(ctx context.Context, actor Actor, courseID uint) (*model.Enrollment, error) {
	course, err := s.CourseRepo.FindCourseByID(ctx, courseID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	if !course.IsPublished && course.AuthorID != actor.UserID && !actor.IsAdmin() {
		return nil, util.ErrCourseNotPublished
	}

	e, err := s.CourseRepo.CreateEnrollment(ctx, courseID, actor.UserID)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, util.ErrAlreadyEnrolled
	}
	if err != nil {
		return nil, err
	}
	logger.Log.Info("User enrolled", zap.Uint("userId", actor.UserID), zap.Uint("courseId", courseID))
	return e, nil
}

// Unenroll 历史成绩保留，只删除选课记录
func (s *EnrollmentService) Unenroll(ctx context.Context, actor Actor, courseID uint) error {
	n, err := s.CourseRepo.DeleteEnrollment(ctx, courseID, actor.UserID)
	if err != nil {
		return err
	}
	if n == 0 {
		return util.ErrEnrollmentNotFound
	}
	if err := s.Aggregation.Invalidate(ctx, actor.UserID); err != nil {
		logger.Log.Warn("Failed to invalidate knowledge cache", zap.Uint("userId", actor.UserID), zap.Error(err))
	}
	return nil
}
