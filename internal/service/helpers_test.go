package service

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/pkg/database"
	"fmt"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	policy *config.PolicyStore

	users     *repository.UserRepository
	courses   *repository.CourseRepository
	tests     *repository.TestRepository
	attempts  *repository.AttemptRepository
	knowledge *repository.KnowledgeRepository

	ledger      *KnowledgeLedger
	aggregation *AggregationService
	unlock      *UnlockService
	scoring     *ScoringService
	assessment  *AssessmentService
	enrollment  *EnrollmentService

	seq int
}

func newTestEnv(t *testing.T, mutate ...func(p *config.Policy)) *testEnv {
	t.Helper()

	db, err := database.InitDB(&config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return newTestEnvWith(t, db, nil, mutate...)
}

// newTestEnvWith wires the services on top of db; rdb may be nil.
func newTestEnvWith(t *testing.T, db *gorm.DB, rdb *redis.Client, mutate ...func(p *config.Policy)) *testEnv {
	t.Helper()

	p := config.DefaultPolicy()
	for _, m := range mutate {
		m(&p)
	}
	require.NoError(t, p.Validate())
	policy := config.NewPolicyStore(p)

	e := &testEnv{
		db:        db,
		policy:    policy,
		users:     repository.NewUserRepository(db),
		courses:   repository.NewCourseRepository(db),
		tests:     repository.NewTestRepository(db),
		attempts:  repository.NewAttemptRepository(db),
		knowledge: repository.NewKnowledgeRepository(db),
	}
	e.ledger = NewKnowledgeLedger(e.knowledge, policy)
	e.aggregation = NewAggregationService(e.courses, e.tests, e.attempts, e.knowledge, NewKnowledgeCache(rdb), policy)
	e.unlock = NewUnlockService(e.courses, e.aggregation, policy)
	e.scoring = NewScoringService(db, e.tests, e.attempts, e.courses, e.ledger, e.aggregation, e.unlock, NewAttemptLocker(rdb), policy)
	e.assessment = NewAssessmentService(e.tests, e.attempts, e.users, e.scoring, policy)
	e.enrollment = NewEnrollmentService(e.courses, e.aggregation)
	return e
}

func (e *testEnv) next() int {
	e.seq++
	return e.seq
}

func (e *testEnv) user(t *testing.T, role model.UserRole) Actor {
	t.Helper()
	n := e.next()
	u := &model.User{Login: fmt.Sprintf("user%d", n), Name: fmt.Sprintf("User %d", n), Role: role}
	require.NoError(t, e.users.Create(context.Background(), u))
	return Actor{UserID: u.ID, Role: u.Role}
}

func (e *testEnv) course(t *testing.T, author Actor) *model.Course {
	t.Helper()
	c := &model.Course{Name: fmt.Sprintf("Course %d", e.next()), AuthorID: author.UserID, IsPublished: true}
	require.NoError(t, e.courses.CreateCourse(context.Background(), c))
	return c
}

func (e *testEnv) module(t *testing.T, courseID uint, position int) *model.Module {
	t.Helper()
	m := &model.Module{CourseID: courseID, Name: fmt.Sprintf("Module %d", e.next()), Position: position}
	require.NoError(t, e.courses.CreateModule(context.Background(), m))
	return m
}

func (e *testEnv) topic(t *testing.T, moduleID uint) *model.Topic {
	t.Helper()
	tp := &model.Topic{ModuleID: moduleID, Name: fmt.Sprintf("Topic %d", e.next())}
	require.NoError(t, e.courses.CreateTopic(context.Background(), tp))
	return tp
}

func (e *testEnv) enroll(t *testing.T, courseID uint, a Actor) {
	t.Helper()
	_, err := e.courses.CreateEnrollment(context.Background(), courseID, a.UserID)
	require.NoError(t, err)
}

// qspec describes a single-choice question with two answers, the first one correct.
type qspec struct {
	topic  *model.Topic
	points int
}

type testOwner struct {
	courseID *uint
	moduleID *uint
}

func inModule(m *model.Module) testOwner { return testOwner{moduleID: &m.ID} }
func inCourse(c *model.Course) testOwner { return testOwner{courseID: &c.ID} }

func (e *testEnv) test(t *testing.T, owner testOwner, qs ...qspec) *model.Test {
	t.Helper()
	n := e.next()
	tst := &model.Test{
		Name:              fmt.Sprintf("Test %d", n),
		DurationInMinutes: 30,
		CourseID:          owner.courseID,
		ModuleID:          owner.moduleID,
	}
	for i, q := range qs {
		mq := model.Question{
			Text:             fmt.Sprintf("Question %d.%d", n, i+1),
			Type:             model.QuestionSingleChoice,
			ComplexityPoints: q.points,
			Position:         i,
			Answers: []model.Answer{
				{Text: "right", IsCorrect: true},
				{Text: "wrong", IsCorrect: false},
			},
		}
		if q.topic != nil {
			mq.TopicID = &q.topic.ID
		}
		tst.Questions = append(tst.Questions, mq)
	}
	require.NoError(t, e.tests.Create(context.Background(), tst))

	loaded, err := e.tests.FindWithQuestions(context.Background(), nil, tst.ID)
	require.NoError(t, err)
	return loaded
}

func right(q model.Question) model.SubmittedAnswer {
	for _, a := range q.Answers {
		if a.IsCorrect {
			id := a.ID
			return model.SubmittedAnswer{AnswerID: &id}
		}
	}
	panic("question without correct answer")
}

func wrong(q model.Question) model.SubmittedAnswer {
	for _, a := range q.Answers {
		if !a.IsCorrect {
			id := a.ID
			return model.SubmittedAnswer{AnswerID: &id}
		}
	}
	panic("question without wrong answer")
}

func allRight(tst *model.Test) map[uint]model.SubmittedAnswer {
	out := make(map[uint]model.SubmittedAnswer, len(tst.Questions))
	for _, q := range tst.Questions {
		out[q.ID] = right(q)
	}
	return out
}

func submit(answers map[uint]model.SubmittedAnswer) SubmitRequest {
	return SubmitRequest{Answers: answers, DurationMinutes: 10}
}

func intPtr(v int) *int { return &v }
