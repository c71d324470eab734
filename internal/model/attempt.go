package model

import (
	"time"

	"gorm.io/datatypes"
)

// Attempt 一次提交的评分结果，写入后不可修改
// swagger:model Attempt
type Attempt struct {
	BaseModel
	TestID            uint           `gorm:"uniqueIndex:idx_attempt_user_test_ordinal;not null" json:"testId"`
	UserID            uint           `gorm:"uniqueIndex:idx_attempt_user_test_ordinal;index;not null" json:"userId"`
	Ordinal           int            `gorm:"uniqueIndex:idx_attempt_user_test_ordinal;not null" json:"ordinal"`
	Answers           datatypes.JSON `json:"answers" swaggertype:"object"`
	Outcomes          datatypes.JSON `json:"outcomes" swaggertype:"array,object"`
	DurationInMinutes int            `json:"durationInMinutes"`
	Score             int            `json:"score"`
	MaxScore          int            `json:"maxScore"`
	Percent           int            `json:"percent"`
	Passed            bool           `json:"passed"`
	NeedsReview       bool           `gorm:"default:false" json:"needsReview"`
	SubmittedAt       time.Time      `json:"submittedAt"`
}

func (Attempt) TableName() string {
	return "test_attempts"
}

// SubmittedAnswer is one entry of the answer map: a chosen answer id or free text.
type SubmittedAnswer struct {
	AnswerID *uint  `json:"answerId,omitempty"`
	Text     string `json:"text,omitempty"`
}

// QuestionOutcome records how a single question was graded inside an attempt.
type QuestionOutcome struct {
	QuestionID   uint  `json:"questionId"`
	TopicID      *uint `json:"topicId,omitempty"`
	Points       int   `json:"points"`
	Awarded      int   `json:"awarded"`
	Correct      bool  `json:"correct"`
	Answered     bool  `json:"answered"`
	AutoGradable bool  `json:"autoGradable"`
}
