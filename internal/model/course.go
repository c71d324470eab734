package model

import "time"

// swagger:model Course
type Course struct {
	BaseModel
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	AuthorID    uint   `gorm:"index" json:"authorId"`
	IsPublished bool   `gorm:"default:false" json:"isPublished"`
}

func (Course) TableName() string {
	return "courses"
}

// Module 课程模块，按 Position（相同时按 ID）排序
// swagger:model Module
type Module struct {
	BaseModel
	CourseID    uint   `gorm:"index;not null" json:"courseId"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Position    int    `gorm:"default:0" json:"position"`
}

func (Module) TableName() string {
	return "modules"
}

// swagger:model Topic
type Topic struct {
	BaseModel
	ModuleID    uint   `gorm:"index;not null" json:"moduleId"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	Position    int    `gorm:"default:0" json:"position"`
}

func (Topic) TableName() string {
	return "topics"
}

// swagger:model Enrollment
type Enrollment struct {
	BaseModel
	CourseID    uint       `gorm:"uniqueIndex:idx_enrollment_course_user;not null" json:"courseId"`
	UserID      uint       `gorm:"uniqueIndex:idx_enrollment_course_user;not null" json:"userId"`
	DateStarted time.Time  `json:"dateStarted"`
	DateEnded   *time.Time `json:"dateEnded,omitempty"`
}

func (Enrollment) TableName() string {
	return "course_enrollments"
}
