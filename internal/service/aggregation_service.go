package service

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/util"
	"eduflex_backend/pkg/logger"
	"eduflex_backend/pkg/monitoring"
	"eduflex_backend/pkg/tracing"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	scopeModule = "module"
	scopeCourse = "course"
)

// Blend combines the evidence terms that are present; 0 when none is.
func Blend(base float64, hasBase bool, test float64, hasTest bool, testShare float64) float64 {
	switch {
	case hasBase && hasTest:
		return (1-testShare)*base + testShare*test
	case hasBase:
		return base
	case hasTest:
		return test
	default:
		return 0
	}
}

// WeightedTopicTerm 按主题权重加权平均；权重为 0 的主题不参与
func WeightedTopicTerm(topics []model.Topic, weights map[uint]int, knowledge map[uint]float64) (float64, bool) {
	var sum, total float64
	for _, t := range topics {
		w := weights[t.ID]
		if w <= 0 {
			continue
		}
		sum += float64(w) * knowledge[t.ID]
		total += float64(w)
	}
	if total == 0 {
		return 0, false
	}
	return sum / total, true
}

// hasGradable 至少有一道可自动评分的题目
func hasGradable(t model.Test) bool {
	for _, q := range t.Questions {
		if q.AutoGradable() {
			return true
		}
	}
	return false
}

type AggregationService struct {
	CourseRepo    *repository.CourseRepository
	TestRepo      *repository.TestRepository
	AttemptRepo   *repository.AttemptRepository
	KnowledgeRepo *repository.KnowledgeRepository
	Cache         KnowledgeCache
	Policy        *config.PolicyStore

	group singleflight.Group
}

func NewAggregationService(
	courseRepo *repository.CourseRepository,
	testRepo *repository.TestRepository,
	attemptRepo *repository.AttemptRepository,
	knowledgeRepo *repository.KnowledgeRepository,
	cache KnowledgeCache,
	policy *config.PolicyStore,
) *AggregationService {
	return &AggregationService{
		CourseRepo:    courseRepo,
		TestRepo:      testRepo,
		AttemptRepo:   attemptRepo,
		KnowledgeRepo: knowledgeRepo,
		Cache:         cache,
		Policy:        policy,
	}
}

// Invalidate 提交成功后调用，使该用户所有派生值失效
func (s *AggregationService) Invalidate(ctx context.Context, userID uint) error {
	return s.Cache.Invalidate(ctx, userID)
}

func (s *AggregationService) cached(ctx context.Context, userID uint, scope string, id uint, compute func() (float64, error)) (float64, error) {
	// 先读已提交的最新尝试，再计算：缓存值不会比 stamp 旧
	latest, err := s.AttemptRepo.LatestID(ctx, userID)
	if err != nil {
		return 0, err
	}
	version, err := s.Cache.Version(ctx, userID)
	if err != nil {
		logger.Log.Warn("Knowledge cache unavailable, computing directly", zap.Error(err))
		return compute()
	}
	stamp := CacheStamp(version, latest)
	if v, ok := s.Cache.Get(ctx, userID, stamp, scope, id); ok {
		return v, nil
	}

	key := fmt.Sprintf("%s:%d:%d:%s", scope, userID, id, stamp)
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		value, err := compute()
		if err != nil {
			return 0.0, err
		}
		s.Cache.Set(ctx, userID, stamp, scope, id, value, s.Policy.Get().Aggregation.CacheTTL)
		return value, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// testTerm 每个可评分测试取最近一次尝试的百分比，再取平均；未作答的测试计 0
func (s *AggregationService) testTerm(ctx context.Context, userID uint, tests []model.Test) (float64, bool, error) {
	ids := make([]uint, 0, len(tests))
	for _, t := range tests {
		if hasGradable(t) {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return 0, false, nil
	}

	attempts, err := s.AttemptRepo.ListByUserTests(ctx, userID, ids)
	if err != nil {
		return 0, false, err
	}

	var sum float64
	for _, id := range ids {
		if series := attempts[id]; len(series) > 0 {
			sum += float64(series[len(series)-1].Percent)
		}
	}
	return sum / float64(len(ids)), true, nil
}

func (s *AggregationService) computeModule(ctx context.Context, userID uint, module *model.Module) (float64, error) {
	defer monitoring.ObserveRecompute(scopeModule, time.Now())
	p := s.Policy.Get()

	topics, err := s.CourseRepo.ListTopics(ctx, module.ID)
	if err != nil {
		return 0, err
	}
	topicIDs := make([]uint, 0, len(topics))
	for _, t := range topics {
		topicIDs = append(topicIDs, t.ID)
	}
	weights, err := s.TestRepo.TopicWeights(ctx, topicIDs)
	if err != nil {
		return 0, err
	}
	knowledge, err := s.KnowledgeRepo.ListByUserTopics(ctx, userID, topicIDs)
	if err != nil {
		return 0, err
	}
	topicTerm, hasTopic := WeightedTopicTerm(topics, weights, knowledge)

	tests, err := s.TestRepo.ListByModules(ctx, []uint{module.ID})
	if err != nil {
		return 0, err
	}
	testTerm, hasTest, err := s.testTerm(ctx, userID, tests)
	if err != nil {
		return 0, err
	}

	return util.Round2(Blend(topicTerm, hasTopic, testTerm, hasTest, p.Aggregation.ModuleTestShare)), nil
}

// HasEvidence 模块是否有可自动评分的证据：带权主题或可评分的模块测试
func (s *AggregationService) HasEvidence(ctx context.Context, module *model.Module) (bool, error) {
	topics, err := s.CourseRepo.ListTopics(ctx, module.ID)
	if err != nil {
		return false, err
	}
	topicIDs := make([]uint, 0, len(topics))
	for _, t := range topics {
		topicIDs = append(topicIDs, t.ID)
	}
	weights, err := s.TestRepo.TopicWeights(ctx, topicIDs)
	if err != nil {
		return false, err
	}
	for _, w := range weights {
		if w > 0 {
			return true, nil
		}
	}
	return s.TestRepo.HasGradableInModules(ctx, []uint{module.ID})
}

func (s *AggregationService) findModule(ctx context.Context, moduleID uint) (*model.Module, error) {
	module, err := s.CourseRepo.FindModuleByID(ctx, moduleID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrModuleNotFound
	}
	return module, err
}

// RecomputeModuleKnowledge 模块掌握度：主题加权项与模块测试项的混合
func (s *AggregationService) RecomputeModuleKnowledge(ctx context.Context, userID, moduleID uint) (float64, error) {
	ctx, span := tracing.Tracer.Start(ctx, "aggregation.module",
		trace.WithAttributes(attribute.Int("user.id", int(userID)), attribute.Int("module.id", int(moduleID))))
	defer span.End()

	module, err := s.findModule(ctx, moduleID)
	if err != nil {
		return 0, err
	}
	return s.moduleKnowledge(ctx, userID, module)
}

func (s *AggregationService) moduleKnowledge(ctx context.Context, userID uint, module *model.Module) (float64, error) {
	return s.cached(ctx, userID, scopeModule, module.ID, func() (float64, error) {
		return s.computeModule(ctx, userID, module)
	})
}

// RecomputeCourseKnowledge 课程掌握度：模块均值与课程测试项的混合
func (s *AggregationService) RecomputeCourseKnowledge(ctx context.Context, userID, courseID uint) (float64, error) {
	ctx, span := tracing.Tracer.Start(ctx, "aggregation.course",
		trace.WithAttributes(attribute.Int("user.id", int(userID)), attribute.Int("course.id", int(courseID))))
	defer span.End()

	if _, err := s.CourseRepo.FindCourseByID(ctx, courseID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, util.ErrCourseNotFound
		}
		return 0, err
	}

	return s.cached(ctx, userID, scopeCourse, courseID, func() (float64, error) {
		defer monitoring.ObserveRecompute(scopeCourse, time.Now())
		p := s.Policy.Get()

		modules, err := s.CourseRepo.ListModules(ctx, courseID)
		if err != nil {
			return 0, err
		}
		var sum float64
		for i := range modules {
			k, err := s.moduleKnowledge(ctx, userID, &modules[i])
			if err != nil {
				return 0, err
			}
			sum += k
		}
		var modulesTerm float64
		if len(modules) > 0 {
			modulesTerm = sum / float64(len(modules))
		}

		tests, err := s.TestRepo.ListByCourse(ctx, courseID)
		if err != nil {
			return 0, err
		}
		testTerm, hasTest, err := s.testTerm(ctx, userID, tests)
		if err != nil {
			return 0, err
		}

		return util.Round2(Blend(modulesTerm, len(modules) > 0, testTerm, hasTest, p.Aggregation.CourseTestShare)), nil
	})
}

// ModuleKnowledgeForUser 用户已选课程下全部模块的掌握度
func (s *AggregationService) ModuleKnowledgeForUser(ctx context.Context, userID uint) ([]model.ModuleKnowledge, error) {
	courseIDs, err := s.CourseRepo.ListEnrolledCourseIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ModuleKnowledge, 0)
	for _, cid := range courseIDs {
		modules, err := s.CourseRepo.ListModules(ctx, cid)
		if err != nil {
			return nil, err
		}
		for i := range modules {
			k, err := s.moduleKnowledge(ctx, userID, &modules[i])
			if err != nil {
				return nil, err
			}
			out = append(out, model.ModuleKnowledge{ModuleID: modules[i].ID, CourseID: cid, Knowledge: k})
		}
	}
	return out, nil
}

func (s *AggregationService) CourseKnowledgeForUser(ctx context.Context, userID uint) ([]model.CourseKnowledge, error) {
	courseIDs, err := s.CourseRepo.ListEnrolledCourseIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.CourseKnowledge, 0, len(courseIDs))
	for _, cid := range courseIDs {
		k, err := s.RecomputeCourseKnowledge(ctx, userID, cid)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CourseKnowledge{CourseID: cid, Knowledge: k})
	}
	return out, nil
}
