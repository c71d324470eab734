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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const invalidateTimeout = 2 * time.Second

type SubmitRequest struct {
	Answers         map[uint]model.SubmittedAnswer
	DurationMinutes int
}

type SubmitResult struct {
	AttemptID       uint             `json:"attemptId"`
	TestID          uint             `json:"testId"`
	Ordinal         int              `json:"ordinal"`
	Score           int              `json:"score"`
	MaxScore        int              `json:"maxScore"`
	Percent         int              `json:"percent"`
	Passed          bool             `json:"passed"`
	PassPercent     int              `json:"passPercent"`
	NeedsReview     bool             `json:"needsReview"`
	Attempts        int              `json:"attempts"`
	MaxAttempts     int              `json:"maxAttempts"`
	Recommendations []Recommendation `json:"recommendations"`
	ModuleKnowledge *float64         `json:"module_knowledge,omitempty"`
	CourseKnowledge *float64         `json:"course_knowledge,omitempty"`
}

type ScoringService struct {
	DB          *gorm.DB
	TestRepo    *repository.TestRepository
	AttemptRepo *repository.AttemptRepository
	CourseRepo  *repository.CourseRepository
	Ledger      *KnowledgeLedger
	Aggregation *AggregationService
	Unlock      *UnlockService
	Locker      AttemptLocker
	Policy      *config.PolicyStore
}

func NewScoringService(
	db *gorm.DB,
	testRepo *repository.TestRepository,
	attemptRepo *repository.AttemptRepository,
	courseRepo *repository.CourseRepository,
	ledger *KnowledgeLedger,
	aggregation *AggregationService,
	unlock *UnlockService,
	locker AttemptLocker,
	policy *config.PolicyStore,
) *ScoringService {
	return &ScoringService{
		DB:          db,
		TestRepo:    testRepo,
		AttemptRepo: attemptRepo,
		CourseRepo:  courseRepo,
		Ledger:      ledger,
		Aggregation: aggregation,
		Unlock:      unlock,
		Locker:      locker,
		Policy:      policy,
	}
}

// ResolvePassPercent 测试自身配置优先于全局策略
func ResolvePassPercent(t *model.Test, p config.ScoringPolicy) int {
	if t.PassPercent != nil {
		return *t.PassPercent
	}
	return p.PassPercent
}

// ResolveMaxAttempts 0 表示不限次数
func ResolveMaxAttempts(t *model.Test, p config.ScoringPolicy) int {
	if t.MaxAttempts != nil {
		return *t.MaxAttempts
	}
	return p.MaxAttempts
}

// CourseIDOf 测试所属课程：课程测试直接取，模块测试取模块的课程
func (s *ScoringService) CourseIDOf(ctx context.Context, t *model.Test) (uint, error) {
	switch {
	case t.CourseID != nil && t.ModuleID == nil:
		return *t.CourseID, nil
	case t.ModuleID != nil && t.CourseID == nil:
		module, err := s.CourseRepo.FindModuleByID(ctx, *t.ModuleID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, util.ErrModuleNotFound
		}
		if err != nil {
			return 0, err
		}
		return module.CourseID, nil
	default:
		return 0, util.ErrTestOwnership
	}
}

// CheckTestAccess 选课检查，模块测试还要求模块已解锁
func (s *ScoringService) CheckTestAccess(ctx context.Context, actor Actor, t *model.Test) error {
	courseID, err := s.CourseIDOf(ctx, t)
	if err != nil {
		return err
	}
	course, err := s.Unlock.findCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if _, err := s.Unlock.CheckCourseAccess(ctx, actor, course); err != nil {
		return err
	}
	if t.ModuleID != nil {
		d, err := s.Unlock.IsAccessible(ctx, actor, *t.ModuleID)
		if err != nil {
			return err
		}
		if !d.Accessible {
			return util.ErrModuleLocked
		}
	}
	return nil
}

func (s *ScoringService) loadTest(ctx context.Context, testID uint) (*model.Test, error) {
	test, err := s.TestRepo.FindWithQuestions(ctx, nil, testID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrTestNotFound
	}
	return test, err
}

// Submit 评分并记录一次尝试。尝试与主题掌握度在同一事务中写入。
func (s *ScoringService) Submit(ctx context.Context, actor Actor, testID uint, req SubmitRequest) (res *SubmitResult, err error) {
	ctx, span := tracing.Tracer.Start(ctx, "scoring.submit",
		trace.WithAttributes(attribute.Int("user.id", int(actor.UserID)), attribute.Int("test.id", int(testID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			monitoring.ObserveRejection(util.CodeOf(err))
		}
		span.End()
	}()

	policy := s.Policy.Get()

	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if len(test.Questions) == 0 {
		return nil, util.ErrTestHasNoQuestions
	}
	if err := s.CheckTestAccess(ctx, actor, test); err != nil {
		return nil, err
	}

	passPercent := ResolvePassPercent(test, policy.Scoring)
	maxAttempts := ResolveMaxAttempts(test, policy.Scoring)

	outcome, err := Grade(test, req.Answers, req.DurationMinutes, passPercent)
	if err != nil {
		return nil, err
	}

	unlock, err := s.Locker.Lock(ctx, fmt.Sprintf("attempt:%d:%d", actor.UserID, testID), policy.Scoring.LockTTL, policy.Scoring.LockWait)
	if err != nil {
		return nil, err
	}
	defer unlock()

	attempt, err := s.persist(ctx, actor.UserID, test, req, outcome, maxAttempts, policy.Scoring)
	if err != nil {
		return nil, err
	}

	monitoring.ObserveAttempt(attempt.Passed)
	logger.Log.Info("Attempt recorded",
		zap.Uint("userId", actor.UserID),
		zap.Uint("testId", testID),
		zap.Uint("attemptId", attempt.ID),
		zap.Int("ordinal", attempt.Ordinal),
		zap.Int("percent", attempt.Percent),
		zap.Bool("passed", attempt.Passed),
	)

	// 事务已提交，以下失败只记录日志，不影响本次结果；缓存 stamp 已随新尝试变化
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	if err := s.Aggregation.Invalidate(ictx, actor.UserID); err != nil {
		logger.Log.Warn("Failed to invalidate knowledge cache", zap.Uint("userId", actor.UserID), zap.Error(err))
	}
	cancel()

	res = &SubmitResult{
		AttemptID:   attempt.ID,
		TestID:      test.ID,
		Ordinal:     attempt.Ordinal,
		Score:       attempt.Score,
		MaxScore:    attempt.MaxScore,
		Percent:     attempt.Percent,
		Passed:      attempt.Passed,
		PassPercent: passPercent,
		NeedsReview: attempt.NeedsReview,
		Attempts:    attempt.Ordinal,
		MaxAttempts: maxAttempts,
	}
	res.Recommendations = s.recommend(ctx, actor.UserID, outcome, policy)
	s.attachKnowledge(ctx, actor.UserID, test, res)
	return res, nil
}

func (s *ScoringService) persist(ctx context.Context, userID uint, test *model.Test, req SubmitRequest, outcome *GradeOutcome, maxAttempts int, p config.ScoringPolicy) (*model.Attempt, error) {
	answers, err := json.Marshal(req.Answers)
	if err != nil {
		return nil, err
	}
	outcomes, err := json.Marshal(outcome.Outcomes)
	if err != nil {
		return nil, err
	}

	var attempt *model.Attempt
	for try := 0; try <= p.MaxRetries; try++ {
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			last, err := s.AttemptRepo.MaxOrdinal(ctx, tx, userID, test.ID)
			if err != nil {
				return err
			}
			if maxAttempts > 0 && last >= maxAttempts {
				return util.ErrMaxAttemptsExceeded.WithDetail("Max attempts reached (%d)", maxAttempts)
			}
			if p.BlockAfterPerfect {
				perfect, err := s.AttemptRepo.HasPerfect(ctx, tx, userID, test.ID)
				if err != nil {
					return err
				}
				if perfect {
					return util.ErrAlreadyPerfect
				}
			}

			a := &model.Attempt{
				TestID:            test.ID,
				UserID:            userID,
				Ordinal:           last + 1,
				Answers:           answers,
				Outcomes:          outcomes,
				DurationInMinutes: req.DurationMinutes,
				Score:             outcome.Score,
				MaxScore:          outcome.MaxScore,
				Percent:           outcome.Percent,
				Passed:            outcome.Passed,
				NeedsReview:       outcome.NeedsReview,
				SubmittedAt:       time.Now(),
			}
			if err := s.AttemptRepo.Create(ctx, tx, a); err != nil {
				return err
			}
			if _, err := s.Ledger.RecordAttempt(ctx, tx, a, outcome.Outcomes); err != nil {
				return fmt.Errorf("record knowledge: %w", err)
			}
			attempt = a
			return nil
		})
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		logger.Log.Debug("Attempt ordinal collision, retrying",
			zap.Uint("userId", userID), zap.Uint("testId", test.ID), zap.Int("try", try))
	}
	return nil, util.ErrBusy
}

func (s *ScoringService) recommend(ctx context.Context, userID uint, outcome *GradeOutcome, p config.Policy) []Recommendation {
	topicIDs := RecommendationTopicIDs(outcome.Outcomes)
	topics, err := s.CourseRepo.FindTopicsByIDs(ctx, topicIDs)
	if err != nil {
		logger.Log.Warn("Failed to load topics for recommendations", zap.Error(err))
		topics = map[uint]model.Topic{}
	}
	snapshot, err := s.Ledger.Snapshot(ctx, userID, topicIDs)
	if err != nil {
		logger.Log.Warn("Failed to load knowledge snapshot", zap.Error(err))
		snapshot = map[uint]float64{}
	}
	return Recommend(outcome, topics, snapshot, p.Recommendation.WeakThreshold)
}

func (s *ScoringService) attachKnowledge(ctx context.Context, userID uint, test *model.Test, res *SubmitResult) {
	if test.ModuleID != nil {
		mk, err := s.Aggregation.RecomputeModuleKnowledge(ctx, userID, *test.ModuleID)
		if err != nil {
			logger.Log.Warn("Failed to compute module knowledge", zap.Uint("moduleId", *test.ModuleID), zap.Error(err))
			return
		}
		res.ModuleKnowledge = &mk
	}

	courseID, err := s.CourseIDOf(ctx, test)
	if err != nil {
		logger.Log.Warn("Failed to resolve course of test", zap.Uint("testId", test.ID), zap.Error(err))
		return
	}
	ck, err := s.Aggregation.RecomputeCourseKnowledge(ctx, userID, courseID)
	if err != nil {
		logger.Log.Warn("Failed to compute course knowledge", zap.Uint("courseId", courseID), zap.Error(err))
		return
	}
	res.CourseKnowledge = &ck
}
