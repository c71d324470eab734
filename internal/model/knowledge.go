package model

// TopicKnowledge 用户对某个主题的掌握度，取值 [0,100]
// swagger:model TopicKnowledge
type TopicKnowledge struct {
	BaseModel
	UserID        uint    `gorm:"uniqueIndex:idx_topic_knowledge_user_topic;not null" json:"userId"`
	TopicID       uint    `gorm:"uniqueIndex:idx_topic_knowledge_user_topic;not null" json:"topicId"`
	Knowledge     float64 `gorm:"not null;default:0" json:"knowledge"`
	Observations  int     `gorm:"default:0" json:"observations"`
	LastAttemptID uint    `json:"lastAttemptId"`
}

func (TopicKnowledge) TableName() string {
	return "topic_knowledge"
}

// ModuleKnowledge and CourseKnowledge are derived values, never stored in SQL.
type ModuleKnowledge struct {
	ModuleID  uint    `json:"moduleId"`
	CourseID  uint    `json:"courseId"`
	Knowledge float64 `json:"knowledge"`
}

type CourseKnowledge struct {
	CourseID  uint    `json:"courseId"`
	Knowledge float64 `json:"knowledge"`
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Course{},
		&Module{},
		&Topic{},
		&Enrollment{},
		&Test{},
		&Question{},
		&Answer{},
		&Attempt{},
		&TopicKnowledge{},
	}
}
