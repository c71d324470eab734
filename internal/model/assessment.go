package model

const (
	QuestionSingleChoice = "single_choice"
	QuestionOpenText     = "open_text"
)

// Test 只能属于课程或模块之一
// swagger:model Test
type Test struct {
	BaseModel
	Name              string     `gorm:"size:255;not null" json:"name"`
	Description       string     `gorm:"type:text" json:"description"`
	DurationInMinutes int        `gorm:"default:0" json:"durationInMinutes"`
	CourseID          *uint      `gorm:"index" json:"courseId,omitempty"`
	ModuleID          *uint      `gorm:"index" json:"moduleId,omitempty"`
	PassPercent       *int       `json:"passPercent,omitempty"` // nil = global policy
	MaxAttempts       *int       `json:"maxAttempts,omitempty"` // nil = global policy, 0 = unlimited
	Questions         []Question `gorm:"foreignKey:TestID" json:"questions,omitempty"`
}

func (Test) TableName() string {
	return "tests"
}

// IsModuleTest reports whether the test is attached to a module rather than a course.
func (t Test) IsModuleTest() bool {
	return t.ModuleID != nil
}

// swagger:model Question
type Question struct {
	BaseModel
	TestID           uint     `gorm:"index;not null" json:"testId"`
	TopicID          *uint    `gorm:"index" json:"topicId,omitempty"`
	Text             string   `gorm:"type:text;not null" json:"text"`
	Type             string   `gorm:"size:30;default:'single_choice'" json:"type"`
	ComplexityPoints int      `gorm:"default:1" json:"complexityPoints"`
	Picture          string   `gorm:"size:255" json:"picture,omitempty"`
	CanonicalAnswer  string   `gorm:"type:text" json:"-"` // open_text only
	Position         int      `gorm:"default:0" json:"position"`
	Answers          []Answer `gorm:"foreignKey:QuestionID" json:"answers,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// AutoGradable reports whether the engine can score the question without a reviewer.
func (q Question) AutoGradable() bool {
	if q.Type == QuestionOpenText {
		return q.CanonicalAnswer != ""
	}
	return true
}

// swagger:model Answer
type Answer struct {
	BaseModel
	QuestionID uint   `gorm:"index;not null" json:"questionId"`
	Text       string `gorm:"type:text;not null" json:"text"`
	IsCorrect  bool   `gorm:"default:false" json:"isCorrect"`
}

func (Answer) TableName() string {
	return "answers"
}
