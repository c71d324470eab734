package service

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/util"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unlockFixture struct {
	env     *testEnv
	author  Actor
	student Actor
	course  *model.Course
	m0, m1  *model.Module
	topic0  *model.Topic
}

// newUnlockFixture builds a two-module course whose first module only gets evidence through its topic.
func newUnlockFixture(t *testing.T, threshold float64) *unlockFixture {
	env := newTestEnv(t, func(p *config.Policy) { p.Unlock.Threshold = threshold })
	f := &unlockFixture{env: env}
	f.author = env.user(t, model.Teacher)
	f.student = env.user(t, model.Student)
	f.course = env.course(t, f.author)
	env.enroll(t, f.course.ID, f.student)
	f.m0 = env.module(t, f.course.ID, 0)
	f.m1 = env.module(t, f.course.ID, 1)
	f.topic0 = env.topic(t, f.m0.ID)
	env.topic(t, f.m1.ID)
	// gives topic0 a weight without adding a module-level test to m0
	env.test(t, inCourse(f.course), qspec{topic: f.topic0, points: 1})
	return f
}

func (f *unlockFixture) setKnowledge(t *testing.T, k float64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	row := model.TopicKnowledge{UserID: f.student.UserID, TopicID: f.topic0.ID, Knowledge: k, Observations: 1}
	row.CreatedAt, row.UpdatedAt = now, now
	require.NoError(t, f.env.knowledge.Upsert(ctx, nil, []model.TopicKnowledge{row}))
	require.NoError(t, f.env.aggregation.Invalidate(ctx, f.student.UserID))
}

func TestFirstModuleAlwaysAccessible(t *testing.T) {
	f := newUnlockFixture(t, 80)

	d, err := f.env.unlock.IsAccessible(context.Background(), f.student, f.m0.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)
	assert.Equal(t, ModuleUnlocked, d.State)
	assert.Equal(t, ReasonFirstModule, d.Reason)
	assert.Nil(t, d.PreviousModuleID)
}

func TestThresholdBoundary(t *testing.T) {
	f := newUnlockFixture(t, 100)
	ctx := context.Background()

	f.setKnowledge(t, 99)
	d, err := f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.False(t, d.Accessible)
	assert.Equal(t, ModuleLocked, d.State)
	assert.Equal(t, ReasonPreviousBelow, d.Reason)
	require.NotNil(t, d.PreviousKnowledge)
	assert.Equal(t, 99.0, *d.PreviousKnowledge)
	assert.Equal(t, f.m0.ID, *d.PreviousModuleID)

	_, err = f.env.unlock.ListTopics(ctx, f.student, f.course.ID, f.m1.ID)
	assert.True(t, errors.Is(err, util.ErrModuleLocked))
	assert.Equal(t, "MODULE_LOCKED", util.CodeOf(err))

	f.setKnowledge(t, 100)
	d, err = f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)
	assert.Equal(t, ReasonPreviousMastered, d.Reason)

	topics, err := f.env.unlock.ListTopics(ctx, f.student, f.course.ID, f.m1.ID)
	require.NoError(t, err)
	assert.Len(t, topics, 1)
}

func TestThresholdHotReload(t *testing.T) {
	f := newUnlockFixture(t, 80)
	ctx := context.Background()
	f.setKnowledge(t, 90)

	d, err := f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)

	p := f.env.policy.Get()
	p.Unlock.Threshold = 95
	require.NoError(t, f.env.policy.Replace(p))

	d, err = f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.False(t, d.Accessible)
	assert.Equal(t, 95.0, d.Threshold)
}

func TestUnlockAccessRules(t *testing.T) {
	f := newUnlockFixture(t, 80)
	ctx := context.Background()

	stranger := f.env.user(t, model.Student)
	_, err := f.env.unlock.IsAccessible(ctx, stranger, f.m1.ID)
	assert.True(t, errors.Is(err, util.ErrNotEnrolled))
	assert.Equal(t, util.KindAccessDenied, util.KindOf(err))

	d, err := f.env.unlock.IsAccessible(ctx, f.author, f.m1.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)
	assert.Equal(t, ReasonPrivileged, d.Reason)

	admin := f.env.user(t, model.Admin)
	d, err = f.env.unlock.IsAccessible(ctx, admin, f.m1.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)

	_, err = f.env.unlock.IsAccessible(ctx, f.student, 4040)
	assert.True(t, errors.Is(err, util.ErrModuleNotFound))

	other := f.env.course(t, f.author)
	_, err = f.env.unlock.ListTopics(ctx, f.author, other.ID, f.m0.ID)
	assert.True(t, errors.Is(err, util.ErrModuleNotFound))
}

func TestModuleStates(t *testing.T) {
	f := newUnlockFixture(t, 80)

	states, err := f.env.unlock.ModuleStates(context.Background(), f.student, f.course.ID)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, f.m0.ID, states[0].ModuleID)
	assert.True(t, states[0].Accessible)
	assert.Equal(t, f.m1.ID, states[1].ModuleID)
	assert.False(t, states[1].Accessible)

	_, err = f.env.unlock.ModuleStates(context.Background(), f.student, 4040)
	assert.True(t, errors.Is(err, util.ErrCourseNotFound))
}

func TestSubmitPushesPreviousModuleToThreshold(t *testing.T) {
	f := newSubmitFixture(t, func(p *config.Policy) { p.Unlock.Threshold = 100 })
	ctx := context.Background()
	tp := f.env.topic(t, f.m0.ID)
	qs := make([]qspec, 100)
	for i := range qs {
		qs[i] = qspec{topic: tp, points: 1}
	}
	tst := f.env.test(t, inModule(f.m0), qs...)

	almost := allRight(tst)
	delete(almost, tst.Questions[0].ID)
	res, err := f.env.scoring.Submit(ctx, f.student, tst.ID, submit(almost))
	require.NoError(t, err)
	assert.Equal(t, 99, res.Percent)
	require.NotNil(t, res.ModuleKnowledge)
	assert.Equal(t, 99.0, *res.ModuleKnowledge)

	d, err := f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.False(t, d.Accessible)
	assert.Equal(t, 99.0, *d.PreviousKnowledge)

	res, err = f.env.scoring.Submit(ctx, f.student, tst.ID, submit(allRight(tst)))
	require.NoError(t, err)
	assert.Equal(t, 100.0, *res.ModuleKnowledge)

	d, err = f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)
	assert.Equal(t, ReasonPreviousMastered, d.Reason)
}

func TestManualReviewTopicDoesNotCapKnowledge(t *testing.T) {
	f := newSubmitFixture(t)
	ctx := context.Background()
	graded := f.env.topic(t, f.m0.ID)
	essays := f.env.topic(t, f.m0.ID)

	tst := &model.Test{
		Name:              "Mixed",
		DurationInMinutes: 30,
		ModuleID:          &f.m0.ID,
		Questions: []model.Question{
			{
				TopicID: &graded.ID, Text: "pick", Type: model.QuestionSingleChoice, ComplexityPoints: 1,
				Answers: []model.Answer{{Text: "right", IsCorrect: true}, {Text: "wrong"}},
			},
			{TopicID: &essays.ID, Text: "explain", Type: model.QuestionOpenText, ComplexityPoints: 3, Position: 1},
		},
	}
	require.NoError(t, f.env.tests.Create(ctx, tst))
	tst, err := f.env.tests.FindWithQuestions(ctx, nil, tst.ID)
	require.NoError(t, err)

	weights, err := f.env.tests.TopicWeights(ctx, []uint{graded.ID, essays.ID})
	require.NoError(t, err)
	assert.Equal(t, map[uint]int{graded.ID: 1}, weights)

	res, err := f.env.scoring.Submit(ctx, f.student, tst.ID, submit(map[uint]model.SubmittedAnswer{
		tst.Questions[0].ID: right(tst.Questions[0]),
		tst.Questions[1].ID: {Text: "an essay"},
	}))
	require.NoError(t, err)
	assert.Equal(t, 100, res.Percent)
	assert.True(t, res.NeedsReview)
	require.NotNil(t, res.ModuleKnowledge)
	assert.Equal(t, 100.0, *res.ModuleKnowledge)

	d, err := f.env.unlock.IsAccessible(ctx, f.student, f.m1.ID)
	require.NoError(t, err)
	assert.True(t, d.Accessible)
}

func TestModulesWithoutEvidenceAreSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	author := env.user(t, model.Teacher)
	student := env.user(t, model.Student)
	course := env.course(t, author)
	env.enroll(t, course.ID, student)

	intro := env.module(t, course.ID, 0)
	env.topic(t, intro.ID) // no questions anywhere
	basics := env.module(t, course.ID, 1)
	extras := env.module(t, course.ID, 2)
	advanced := env.module(t, course.ID, 3)
	tp := env.topic(t, basics.ID)
	quiz := env.test(t, inModule(basics), qspec{topic: tp, points: 1})

	states, err := env.unlock.ModuleStates(ctx, student, course.ID)
	require.NoError(t, err)
	require.Len(t, states, 4)
	assert.True(t, states[0].Accessible)
	assert.Equal(t, ReasonNoPriorEvidence, states[1].Reason)
	assert.True(t, states[1].Accessible)
	assert.Nil(t, states[1].PreviousModuleID)
	assert.False(t, states[2].Accessible)
	assert.Equal(t, basics.ID, *states[2].PreviousModuleID)
	// extras has no evidence, so advanced also depends on basics
	assert.False(t, states[3].Accessible)
	assert.Equal(t, basics.ID, *states[3].PreviousModuleID)

	_, err = env.scoring.Submit(ctx, student, quiz.ID, submit(allRight(quiz)))
	require.NoError(t, err)

	for _, m := range []*model.Module{extras, advanced} {
		d, err := env.unlock.IsAccessible(ctx, student, m.ID)
		require.NoError(t, err)
		assert.True(t, d.Accessible, "module %d", m.ID)
		assert.Equal(t, ReasonPreviousMastered, d.Reason)
	}
}
