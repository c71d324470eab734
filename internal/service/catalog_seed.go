package service

import (
	"context"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/repository"
	"eduflex_backend/pkg/logger"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type CatalogAnswer struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}

type CatalogQuestion struct {
	Text      string          `yaml:"text"`
	Type      string          `yaml:"type"`
	Topic     string          `yaml:"topic"`
	Points    int             `yaml:"points"`
	Picture   string          `yaml:"picture"`
	Canonical string          `yaml:"canonical"`
	Answers   []CatalogAnswer `yaml:"answers"`
}

type CatalogTest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Duration    int               `yaml:"duration"`
	PassPercent *int              `yaml:"pass_percent"`
	MaxAttempts *int              `yaml:"max_attempts"`
	Questions   []CatalogQuestion `yaml:"questions"`
}

type CatalogTopic struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type CatalogModule struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Topics      []CatalogTopic `yaml:"topics"`
	Tests       []CatalogTest  `yaml:"tests"`
}

type CatalogCourse struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Author      string          `yaml:"author"`
	Published   bool            `yaml:"published"`
	Enroll      []string        `yaml:"enroll"`
	Modules     []CatalogModule `yaml:"modules"`
	Tests       []CatalogTest   `yaml:"tests"`
}

type CatalogUser struct {
	Login   string         `yaml:"login"`
	Name    string         `yaml:"name"`
	Surname string         `yaml:"surname"`
	Role    model.UserRole `yaml:"role"`
}

// Catalog 演示数据：用户、课程、模块、主题和测试
type Catalog struct {
	Users   []CatalogUser   `yaml:"users"`
	Courses []CatalogCourse `yaml:"courses"`
}

func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &c, c.Validate()
}

func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseCatalog(f)
}

func (t CatalogTest) validate(where string) error {
	if len(t.Questions) == 0 {
		return fmt.Errorf("%s: test %q has no questions", where, t.Name)
	}
	for i, q := range t.Questions {
		if q.Points < 0 {
			return fmt.Errorf("%s: test %q question %d: points must be positive", where, t.Name, i+1)
		}
		switch q.Type {
		case "", model.QuestionSingleChoice:
			correct := 0
			for _, a := range q.Answers {
				if a.Correct {
					correct++
				}
			}
			if correct != 1 {
				return fmt.Errorf("%s: test %q question %d: exactly one correct answer required, got %d", where, t.Name, i+1, correct)
			}
		case model.QuestionOpenText:
		default:
			return fmt.Errorf("%s: test %q question %d: unknown type %q", where, t.Name, i+1, q.Type)
		}
	}
	return nil
}

func (c *Catalog) Validate() error {
	logins := make(map[string]bool)
	for _, u := range c.Users {
		if u.Login == "" {
			return errors.New("catalog: user without login")
		}
		logins[u.Login] = true
	}
	for _, course := range c.Courses {
		if course.Author != "" && !logins[course.Author] {
			return fmt.Errorf("catalog: course %q: unknown author %q", course.Name, course.Author)
		}
		for _, login := range course.Enroll {
			if !logins[login] {
				return fmt.Errorf("catalog: course %q: unknown user %q", course.Name, login)
			}
		}
		for _, m := range course.Modules {
			for _, t := range m.Tests {
				if err := t.validate(course.Name + "/" + m.Name); err != nil {
					return err
				}
			}
		}
		for _, t := range course.Tests {
			if err := t.validate(course.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// CatalogSeeder 写入演示数据，已存在的同名课程会被跳过
type CatalogSeeder struct {
	DB *gorm.DB
}

func NewCatalogSeeder(db *gorm.DB) *CatalogSeeder {
	return &CatalogSeeder{DB: db}
}

func (s *CatalogSeeder) Seed(ctx context.Context, c *Catalog) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := repository.NewUserRepository(tx)
		courses := repository.NewCourseRepository(tx)
		tests := repository.NewTestRepository(tx)

		ids := make(map[string]uint, len(c.Users))
		for _, cu := range c.Users {
			u, err := users.FindByLogin(ctx, cu.Login)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				role := cu.Role
				if role == "" {
					role = model.Student
				}
				u = &model.User{Login: cu.Login, Name: cu.Name, Surname: cu.Surname, Role: role}
				if cu.Name == "" {
					u.Name = cu.Login
				}
				err = users.Create(ctx, u)
			}
			if err != nil {
				return fmt.Errorf("seed user %q: %w", cu.Login, err)
			}
			ids[cu.Login] = u.ID
		}

		for _, cc := range c.Courses {
			if _, err := courses.FindCourseByName(ctx, cc.Name); err == nil {
				logger.Log.Info("Course already seeded, skipping", zap.String("course", cc.Name))
				continue
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := seedCourse(ctx, courses, tests, cc, ids); err != nil {
				return fmt.Errorf("seed course %q: %w", cc.Name, err)
			}
		}
		return nil
	})
}

func seedCourse(ctx context.Context, courses *repository.CourseRepository, tests *repository.TestRepository, cc CatalogCourse, users map[string]uint) error {
	course := &model.Course{
		Name:        cc.Name,
		Description: cc.Description,
		AuthorID:    users[cc.Author],
		IsPublished: cc.Published,
	}
	if err := courses.CreateCourse(ctx, course); err != nil {
		return err
	}

	// 课程级测试可以引用任意模块的主题
	courseTopics := make(map[string]uint)
	for pos, cm := range cc.Modules {
		module := &model.Module{CourseID: course.ID, Name: cm.Name, Description: cm.Description, Position: pos}
		if err := courses.CreateModule(ctx, module); err != nil {
			return err
		}
		moduleTopics := make(map[string]uint, len(cm.Topics))
		for tpos, ct := range cm.Topics {
			topic := &model.Topic{ModuleID: module.ID, Name: ct.Name, Description: ct.Description, Position: tpos}
			if err := courses.CreateTopic(ctx, topic); err != nil {
				return err
			}
			moduleTopics[ct.Name] = topic.ID
			courseTopics[ct.Name] = topic.ID
		}
		for _, ctest := range cm.Tests {
			t, err := buildTest(ctest, moduleTopics)
			if err != nil {
				return err
			}
			t.ModuleID = &module.ID
			if err := tests.Create(ctx, t); err != nil {
				return err
			}
		}
	}

	for _, ctest := range cc.Tests {
		t, err := buildTest(ctest, courseTopics)
		if err != nil {
			return err
		}
		t.CourseID = &course.ID
		if err := tests.Create(ctx, t); err != nil {
			return err
		}
	}

	for _, login := range cc.Enroll {
		if _, err := courses.CreateEnrollment(ctx, course.ID, users[login]); err != nil {
			return err
		}
	}
	logger.Log.Info("Course seeded", zap.String("course", cc.Name), zap.Uint("courseId", course.ID))
	return nil
}

func buildTest(ct CatalogTest, topics map[string]uint) (*model.Test, error) {
	duration := ct.Duration
	if duration <= 0 {
		duration = int((30 * time.Minute).Minutes())
	}
	t := &model.Test{
		Name:              ct.Name,
		Description:       ct.Description,
		DurationInMinutes: duration,
		PassPercent:       ct.PassPercent,
		MaxAttempts:       ct.MaxAttempts,
	}
	for pos, cq := range ct.Questions {
		q := model.Question{
			Text:             cq.Text,
			Type:             cq.Type,
			ComplexityPoints: cq.Points,
			Picture:          cq.Picture,
			CanonicalAnswer:  cq.Canonical,
			Position:         pos,
		}
		if q.Type == "" {
			q.Type = model.QuestionSingleChoice
		}
		if q.ComplexityPoints == 0 {
			q.ComplexityPoints = 1
		}
		if cq.Topic != "" {
			id, ok := topics[cq.Topic]
			if !ok {
				return nil, fmt.Errorf("test %q: unknown topic %q", ct.Name, cq.Topic)
			}
			q.TopicID = &id
		}
		for _, ca := range cq.Answers {
			q.Answers = append(q.Answers, model.Answer{Text: ca.Text, IsCorrect: ca.Correct})
		}
		t.Questions = append(t.Questions, q)
	}
	return t, nil
}
