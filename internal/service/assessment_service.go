package service

import (
	"bytes"
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/util"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// AssessmentService 测试详情与成绩查询
type AssessmentService struct {
	TestRepo    *repository.TestRepository
	AttemptRepo *repository.AttemptRepository
	UserRepo    *repository.UserRepository
	Scoring     *ScoringService
	Policy      *config.PolicyStore
}

func NewAssessmentService(
	testRepo *repository.TestRepository,
	attemptRepo *repository.AttemptRepository,
	userRepo *repository.UserRepository,
	scoring *ScoringService,
	policy *config.PolicyStore,
) *AssessmentService {
	return &AssessmentService{
		TestRepo:    testRepo,
		AttemptRepo: attemptRepo,
		UserRepo:    userRepo,
		Scoring:     scoring,
		Policy:      policy,
	}
}

type AnswerView struct {
	ID   uint   `json:"id"`
	Text string `json:"text"`
}

type QuestionView struct {
	ID               uint         `json:"id"`
	TopicID          *uint        `json:"topicId,omitempty"`
	Text             string       `json:"text"`
	Type             string       `json:"type"`
	ComplexityPoints int          `json:"complexityPoints"`
	Picture          string       `json:"picture,omitempty"`
	Answers          []AnswerView `json:"answers"`
}

// TestView 学生视角的测试，不含正确答案
type TestView struct {
	ID                uint           `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	DurationInMinutes int            `json:"durationInMinutes"`
	CourseID          *uint          `json:"courseId,omitempty"`
	ModuleID          *uint          `json:"moduleId,omitempty"`
	PassPercent       int            `json:"passPercent"`
	MaxAttempts       int            `json:"maxAttempts"`
	AttemptsUsed      int64          `json:"attemptsUsed"`
	AttemptsRemaining *int64         `json:"attemptsRemaining,omitempty"`
	Questions         []QuestionView `json:"questions"`
}

type ResultView struct {
	model.Attempt
	TestName string `json:"testName,omitempty"`
	UserName string `json:"userName,omitempty"`
	Login    string `json:"login,omitempty"`
}

func (s *AssessmentService) GetTest(ctx context.Context, actor Actor, testID uint) (*TestView, error) {
	test, err := s.Scoring.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if err := s.Scoring.CheckTestAccess(ctx, actor, test); err != nil {
		return nil, err
	}

	p := s.Policy.Get().Scoring
	used, err := s.AttemptRepo.CountByUserTest(ctx, actor.UserID, test.ID)
	if err != nil {
		return nil, err
	}

	view := &TestView{
		ID:                test.ID,
		Name:              test.Name,
		Description:       test.Description,
		DurationInMinutes: test.DurationInMinutes,
		CourseID:          test.CourseID,
		ModuleID:          test.ModuleID,
		PassPercent:       ResolvePassPercent(test, p),
		MaxAttempts:       ResolveMaxAttempts(test, p),
		AttemptsUsed:      used,
		Questions:         make([]QuestionView, 0, len(test.Questions)),
	}
	if view.MaxAttempts > 0 {
		remaining := int64(view.MaxAttempts) - used
		if remaining < 0 {
			remaining = 0
		}
		view.AttemptsRemaining = &remaining
	}

	for _, q := range test.Questions {
		qv := QuestionView{
			ID:               q.ID,
			TopicID:          q.TopicID,
			Text:             q.Text,
			Type:             q.Type,
			ComplexityPoints: points(q),
			Picture:          q.Picture,
			Answers:          make([]AnswerView, 0, len(q.Answers)),
		}
		if q.Type != model.QuestionOpenText {
			for _, a := range q.Answers {
				qv.Answers = append(qv.Answers, AnswerView{ID: a.ID, Text: a.Text})
			}
		}
		view.Questions = append(view.Questions, qv)
	}
	return view, nil
}

// canManage 管理员或课程作者
func (s *AssessmentService) canManage(ctx context.Context, actor Actor, test *model.Test) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	courseID, err := s.Scoring.CourseIDOf(ctx, test)
	if err != nil {
		return false, err
	}
	course, err := s.Scoring.Unlock.findCourse(ctx, courseID)
	if err != nil {
		return false, err
	}
	return course.AuthorID == actor.UserID, nil
}

func (s *AssessmentService) decorate(ctx context.Context, attempts []model.Attempt) ([]ResultView, error) {
	userIDs := make([]uint, 0, len(attempts))
	testNames := make(map[uint]string)
	for _, a := range attempts {
		userIDs = append(userIDs, a.UserID)
		testNames[a.TestID] = ""
	}
	users, err := s.UserRepo.FindByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for id := range testNames {
		if t, err := s.TestRepo.FindByID(ctx, id); err == nil {
			testNames[id] = t.Name
		}
	}

	out := make([]ResultView, 0, len(attempts))
	for _, a := range attempts {
		u := users[a.UserID]
		out = append(out, ResultView{
			Attempt:  a,
			TestName: testNames[a.TestID],
			UserName: u.FullName(),
			Login:    u.Login,
		})
	}
	return out, nil
}

// MyResults 当前用户的全部成绩，最新的在前
func (s *AssessmentService) MyResults(ctx context.Context, actor Actor) ([]ResultView, error) {
	attempts, err := s.AttemptRepo.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, attempts)
}

// GetResult 本人、课程作者或管理员可查看
func (s *AssessmentService) GetResult(ctx context.Context, actor Actor, attemptID uint) (*ResultView, error) {
	attempt, err := s.AttemptRepo.FindByID(ctx, attemptID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAttemptNotFound
	}
	if err != nil {
		return nil, err
	}

	if attempt.UserID != actor.UserID {
		test, err := s.TestRepo.FindByID(ctx, attempt.TestID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTestNotFound
		}
		if err != nil {
			return nil, err
		}
		ok, err := s.canManage(ctx, actor, test)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, util.ErrPermissionDenied
		}
	}

	views, err := s.decorate(ctx, []model.Attempt{*attempt})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// TestResults 某测试的全部成绩，仅管理员或课程作者
func (s *AssessmentService) TestResults(ctx context.Context, actor Actor, testID uint) ([]ResultView, *model.Test, error) {
	test, err := s.TestRepo.FindByID(ctx, testID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, util.ErrTestNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	ok, err := s.canManage(ctx, actor, test)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, util.ErrPermissionDenied
	}

	attempts, err := s.AttemptRepo.ListByTest(ctx, testID)
	if err != nil {
		return nil, nil, err
	}
	views, err := s.decorate(ctx, attempts)
	return views, test, err
}

var exportHeader = []interface{}{"Attempt", "Login", "Name", "Ordinal", "Score", "Max score", "Percent", "Passed", "Needs review", "Duration (min)", "Submitted at"}

// ExportTestResults 导出为 xlsx
func (s *AssessmentService) ExportTestResults(ctx context.Context, actor Actor, testID uint) (*bytes.Buffer, string, error) {
	views, test, err := s.TestResults(ctx, actor, testID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, "", err
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return nil, "", err
	}
	for i, v := range views {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, "", err
		}
		row := []interface{}{
			v.ID, v.Login, v.UserName, v.Ordinal, v.Score, v.MaxScore, v.Percent,
			v.Passed, v.NeedsReview, v.DurationInMinutes, v.SubmittedAt.Format(util.TimeFormat),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, "", err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	return buf, fmt.Sprintf("test_%d_results.xlsx", test.ID), nil
}
