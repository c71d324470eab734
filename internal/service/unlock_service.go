package service

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/util"
	"eduflex_backend/pkg/tracing"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	ModuleLocked   = "locked"
	ModuleUnlocked = "unlocked"
)

const (
	ReasonFirstModule      = "first_module"
	ReasonPrivileged       = "privileged"
	ReasonPreviousMastered = "previous_module_mastered"
	ReasonPreviousBelow    = "previous_module_below_threshold"
	ReasonNoPriorEvidence  = "no_prior_evidence"
)

// Actor 发起请求的用户
type Actor struct {
	UserID uint
	Role   model.UserRole
}

func ActorFromClaims(c *util.Claims) Actor {
	return Actor{UserID: c.UserID, Role: c.Role}
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.Admin
}

type AccessDecision struct {
	ModuleID          uint     `json:"moduleId"`
	CourseID          uint     `json:"courseId"`
	Index             int      `json:"index"`
	Accessible        bool     `json:"accessible"`
	State             string   `json:"state"`
	Reason            string   `json:"reason"`
	PreviousModuleID  *uint    `json:"previousModuleId,omitempty"`
	PreviousKnowledge *float64 `json:"previousKnowledge,omitempty"`
	Threshold         float64  `json:"threshold"`
}

type UnlockService struct {
	CourseRepo  *repository.CourseRepository
	Aggregation *AggregationService
	Policy      *config.PolicyStore
}

func NewUnlockService(courseRepo *repository.CourseRepository, aggregation *AggregationService, policy *config.PolicyStore) *UnlockService {
	return &UnlockService{CourseRepo: courseRepo, Aggregation: aggregation, Policy: policy}
}

func (s *UnlockService) findCourse(ctx context.Context, courseID uint) (*model.Course, error) {
	course, err := s.CourseRepo.FindCourseByID(ctx, courseID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrCourseNotFound
	}
	return course, err
}

// CheckCourseAccess 作者和管理员返回 privileged=true；未选课的学生返回 ErrNotEnrolled
func (s *UnlockService) CheckCourseAccess(ctx context.Context, actor Actor, course *model.Course) (bool, error) {
	if actor.IsAdmin() || course.AuthorID == actor.UserID {
		return true, nil
	}
	enrolled, err := s.CourseRepo.IsEnrolled(ctx, course.ID, actor.UserID)
	if err != nil {
		return false, err
	}
	if !enrolled {
		return false, util.ErrNotEnrolled
	}
	return false, nil
}

// previousWithEvidence 向前找最近一个有可评分证据的模块；没有证据的模块无法被掌握，解锁时跳过
func (s *UnlockService) previousWithEvidence(ctx context.Context, modules []model.Module, i int) (*model.Module, error) {
	for j := i - 1; j >= 0; j-- {
		ok, err := s.Aggregation.HasEvidence(ctx, &modules[j])
		if err != nil {
			return nil, err
		}
		if ok {
			return &modules[j], nil
		}
	}
	return nil, nil
}

func (s *UnlockService) decide(ctx context.Context, actor Actor, modules []model.Module, i int, privileged bool, threshold float64) (*AccessDecision, error) {
	m := modules[i]
	d := &AccessDecision{
		ModuleID:  m.ID,
		CourseID:  m.CourseID,
		Index:     i,
		Threshold: threshold,
	}

	switch {
	case privileged:
		d.Reason = ReasonPrivileged
		d.Accessible = true
	case i == 0:
		d.Reason = ReasonFirstModule
		d.Accessible = true
	default:
		prev, err := s.previousWithEvidence(ctx, modules, i)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			d.Reason = ReasonNoPriorEvidence
			d.Accessible = true
			break
		}
		k, err := s.Aggregation.moduleKnowledge(ctx, actor.UserID, prev)
		if err != nil {
			return nil, err
		}
		d.PreviousModuleID = &prev.ID
		d.PreviousKnowledge = &k
		d.Accessible = k >= threshold
		if d.Accessible {
			d.Reason = ReasonPreviousMastered
		} else {
			d.Reason = ReasonPreviousBelow
		}
	}

	d.State = ModuleLocked
	if d.Accessible {
		d.State = ModuleUnlocked
	}
	return d, nil
}

// IsAccessible 判断模块对用户是否已解锁
func (s *UnlockService) IsAccessible(ctx context.Context, actor Actor, moduleID uint) (*AccessDecision, error) {
	ctx, span := tracing.Tracer.Start(ctx, "unlock.is_accessible",
		trace.WithAttributes(attribute.Int("user.id", int(actor.UserID)), attribute.Int("module.id", int(moduleID))))
	defer span.End()

	module, err := s.Aggregation.findModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	course, err := s.findCourse(ctx, module.CourseID)
	if err != nil {
		return nil, err
	}
	privileged, err := s.CheckCourseAccess(ctx, actor, course)
	if err != nil {
		return nil, err
	}

	modules, err := s.CourseRepo.ListModules(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	for i := range modules {
		if modules[i].ID == module.ID {
			return s.decide(ctx, actor, modules, i, privileged, s.Policy.Get().Unlock.Threshold)
		}
	}
	return nil, util.ErrModuleNotFound
}

// ModuleStates 一次返回课程内所有模块的解锁状态
func (s *UnlockService) ModuleStates(ctx context.Context, actor Actor, courseID uint) ([]AccessDecision, error) {
	course, err := s.findCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	privileged, err := s.CheckCourseAccess(ctx, actor, course)
	if err != nil {
		return nil, err
	}
	modules, err := s.CourseRepo.ListModules(ctx, courseID)
	if err != nil {
		return nil, err
	}

	threshold := s.Policy.Get().Unlock.Threshold
	out := make([]AccessDecision, 0, len(modules))
	for i := range modules {
		d, err := s.decide(ctx, actor, modules, i, privileged, threshold)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// RequireModule 模块必须属于该课程且已解锁
func (s *UnlockService) RequireModule(ctx context.Context, actor Actor, courseID, moduleID uint) (*AccessDecision, error) {
	d, err := s.IsAccessible(ctx, actor, moduleID)
	if err != nil {
		return nil, err
	}
	if d.CourseID != courseID {
		return nil, util.ErrModuleNotFound
	}
	if !d.Accessible {
		return d, util.ErrModuleLocked
	}
	return d, nil
}

// ListTopics 模块锁定时返回 ErrModuleLocked
func (s *UnlockService) ListTopics(ctx context.Context, actor Actor, courseID, moduleID uint) ([]model.Topic, error) {
	if _, err := s.RequireModule(ctx, actor, courseID, moduleID); err != nil {
		return nil, err
	}
	return s.CourseRepo.ListTopics(ctx, moduleID)
}
