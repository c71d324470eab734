package model

import (
	"time"
)

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// swagger:model User
type User struct {
	BaseModel
	Login    string     `gorm:"size:100;uniqueIndex;not null" json:"login"`
	Name     string     `gorm:"size:100;not null" json:"name"`
	Surname  string     `gorm:"size:100" json:"surname"`
	Role     UserRole   `gorm:"size:20;default:'student'" json:"role"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

func (User) TableName() string {
	return "users"
}

func (u User) FullName() string {
	if u.Surname == "" {
		return u.Name
	}
	return u.Name + " " + u.Surname
}
