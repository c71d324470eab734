package app

import (
	"bytes"
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/util"
	"eduflex_backend/pkg/database"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "app-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	app      *App
	student  string
	teacher  string
	course   *model.Course
	first    *model.Module
	second   *model.Module
	test     *model.Test
	answerOK map[string]uint
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.InitDB(&config.DatabaseConfig{Driver: util.DBDriverSQLite, DSN: "file::memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		JWT:    config.JWTConfig{Secret: testSecret, ExpireTime: time.Hour},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"*"}},
		Policy: config.DefaultPolicy(),
	}

	ctx := context.Background()
	users := repository.NewUserRepository(db)
	courses := repository.NewCourseRepository(db)
	tests := repository.NewTestRepository(db)

	teacher := &model.User{Login: "teacher", Name: "Teacher", Role: model.Teacher}
	student := &model.User{Login: "alice", Name: "Alice", Role: model.Student}
	require.NoError(t, users.Create(ctx, teacher))
	require.NoError(t, users.Create(ctx, student))

	f := &fixture{answerOK: map[string]uint{}}
	f.course = &model.Course{Name: "Programming in C", AuthorID: teacher.ID, IsPublished: true}
	require.NoError(t, courses.CreateCourse(ctx, f.course))
	f.first = &model.Module{CourseID: f.course.ID, Name: "Basics", Position: 1}
	f.second = &model.Module{CourseID: f.course.ID, Name: "Pointers", Position: 2}
	require.NoError(t, courses.CreateModule(ctx, f.first))
	require.NoError(t, courses.CreateModule(ctx, f.second))

	syntax := &model.Topic{ModuleID: f.first.ID, Name: "Syntax"}
	pointers := &model.Topic{ModuleID: f.second.ID, Name: "Pointer arithmetic"}
	require.NoError(t, courses.CreateTopic(ctx, syntax))
	require.NoError(t, courses.CreateTopic(ctx, pointers))

	tst := &model.Test{Name: "Basics quiz", DurationInMinutes: 20, ModuleID: &f.first.ID}
	for i := 0; i < 2; i++ {
		tst.Questions = append(tst.Questions, model.Question{
			TopicID:          &syntax.ID,
			Text:             fmt.Sprintf("Q%d", i+1),
			Type:             model.QuestionSingleChoice,
			ComplexityPoints: 1,
			Position:         i,
			Answers: []model.Answer{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
			},
		})
	}
	require.NoError(t, tests.Create(ctx, tst))
	loaded, err := tests.FindWithQuestions(ctx, nil, tst.ID)
	require.NoError(t, err)
	f.test = loaded
	for _, q := range loaded.Questions {
		for _, a := range q.Answers {
			if a.IsCorrect {
				f.answerOK[fmt.Sprint(q.ID)] = a.ID
			}
		}
	}

	f.student = bearer(t, student)
	f.teacher = bearer(t, teacher)
	f.app = New(cfg, db, nil)
	return f
}

func bearer(t *testing.T, u *model.User) string {
	t.Helper()
	tok, err := util.GenerateJWT(u, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (f *fixture) do(t *testing.T, method, path, auth string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	f.app.Router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"redis":"disabled"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(t, http.MethodGet, "/api/me/results", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmissionUnlocksNextModule(t *testing.T) {
	f := newFixture(t)
	coursePath := fmt.Sprintf("/api/courses/%d", f.course.ID)
	lockedTopics := fmt.Sprintf("%s/modules/%d/topics", coursePath, f.second.ID)
	submitPath := fmt.Sprintf("/api/tests/%d/submit", f.test.ID)

	// not enrolled yet
	w, env := f.do(t, http.MethodGet, coursePath+"/modules/access", f.student, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "NOT_ENROLLED", env.Reason)

	w, _ = f.do(t, http.MethodPost, coursePath+"/enroll", f.student, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w, _ = f.do(t, http.MethodPost, coursePath+"/enroll", f.student, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = f.do(t, http.MethodGet, coursePath+"/modules/access", f.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var states []struct {
		ModuleID   uint   `json:"moduleId"`
		Accessible bool   `json:"accessible"`
		Reason     string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &states))
	require.Len(t, states, 2)
	assert.True(t, states[0].Accessible)
	assert.Equal(t, "first_module", states[0].Reason)
	assert.False(t, states[1].Accessible)
	assert.Equal(t, "previous_module_below_threshold", states[1].Reason)

	w, env = f.do(t, http.MethodGet, lockedTopics, f.student, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "MODULE_LOCKED", env.Reason)

	// student view hides the correct answers
	w, _ = f.do(t, http.MethodGet, fmt.Sprintf("/api/tests/%d", f.test.ID), f.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "isCorrect")
	assert.Contains(t, w.Body.String(), `"attemptsUsed":0`)

	w, env = f.do(t, http.MethodPost, submitPath, f.student, gin.H{"answers": f.answerOK, "durationMinutes": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Ordinal         int               `json:"ordinal"`
		Percent         int               `json:"percent"`
		Passed          bool              `json:"passed"`
		Attempts        int               `json:"attempts"`
		Recommendations []json.RawMessage `json:"recommendations"`
		ModuleKnowledge *float64          `json:"module_knowledge"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Ordinal)
	assert.Equal(t, 100, res.Percent)
	assert.True(t, res.Passed)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Recommendations)
	require.NotNil(t, res.ModuleKnowledge)
	assert.Equal(t, float64(100), *res.ModuleKnowledge)

	w, _ = f.do(t, http.MethodGet, lockedTopics, f.student, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// a perfect score closes the test
	w, env = f.do(t, http.MethodPost, submitPath, f.student, gin.H{"answers": f.answerOK, "durationMinutes": 5})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_PERFECT", env.Reason)

	w, env = f.do(t, http.MethodGet, "/api/me/results", f.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var results []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.Len(t, results, 1)

	w, env = f.do(t, http.MethodGet, "/api/me/modules/knowledge", f.student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"knowledge":100`)
}

func TestSubmitRejectsMalformedAnswers(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, fmt.Sprintf("/api/courses/%d/enroll", f.course.ID), f.student, nil)

	path := fmt.Sprintf("/api/tests/%d/submit", f.test.ID)
	w, _ := f.do(t, http.MethodPost, path, f.student, gin.H{"answers": gin.H{fmt.Sprint(f.test.Questions[0].ID): true}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, path, f.student, gin.H{"durationMinutes": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := f.do(t, http.MethodPost, path, f.student, gin.H{"answers": gin.H{}, "durationMinutes": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_DURATION", env.Reason)

	w, env = f.do(t, http.MethodPost, path, f.student, gin.H{"answers": gin.H{fmt.Sprint(f.test.Questions[0].ID): "pointers"}, "durationMinutes": 4})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MALFORMED_ANSWER", env.Reason)

	w, env = f.do(t, http.MethodPost, "/api/tests/999/submit", f.student, gin.H{"answers": gin.H{}, "durationMinutes": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TEST_NOT_FOUND", env.Reason)
}

func TestTeacherResultsAndExport(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, fmt.Sprintf("/api/courses/%d/enroll", f.course.ID), f.student, nil)
	w, _ := f.do(t, http.MethodPost, fmt.Sprintf("/api/tests/%d/submit", f.test.ID), f.student, gin.H{"answers": gin.H{}, "durationMinutes": 12})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resultsPath := fmt.Sprintf("/api/tests/%d/results", f.test.ID)

	w, _ = f.do(t, http.MethodGet, resultsPath, f.student, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := f.do(t, http.MethodGet, resultsPath, f.teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"login":"alice"`)

	w, _ = f.do(t, http.MethodGet, resultsPath+"/export", f.teacher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, util.MimeXLSX, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}
