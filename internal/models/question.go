// internal/models/question.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// RoomQuestion is a host-authored question owned by a custom-mode room. The
// question set is frozen once the room leaves scheduled status.
type RoomQuestion struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	RoomID        uint         `json:"room_id" gorm:"not null;uniqueIndex:idx_room_question_pos"`
	Position      int          `json:"position" gorm:"uniqueIndex:idx_room_question_pos"`
	Text          string       `json:"text" gorm:"not null"`
	TextHindi     string       `json:"text_hindi"`
	Options       []RoomOption `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
	CorrectOption int          `json:"-"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negative_marks"`
}

type RoomOption struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"deleted_at" gorm:"index"`
	QuestionID uint           `json:"question_id"`
	Position   int            `json:"position"`
	Text       string         `json:"text" gorm:"not null"`
	TextHindi  string         `json:"text_hindi"`
}

// PlatformTest is the externally managed test a platform_test room references.
// Its duration and scoring parameters always win over caller-supplied values.
type PlatformTest struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	Title            string  `json:"title" gorm:"not null"`
	DurationMinutes  int     `json:"duration_minutes"`
	MarksPerQuestion float64 `json:"marks_per_question"`
	NegativeMarks    float64 `json:"negative_marks"`
	TotalMarks       float64 `json:"total_marks"`
}

type PlatformQuestion struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	TestID        uint             `json:"test_id" gorm:"not null;index"`
	Position      int              `json:"position"`
	Text          string           `json:"text" gorm:"not null"`
	TextHindi     string           `json:"text_hindi"`
	Options       []PlatformOption `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
	CorrectOption int              `json:"-"`
	Marks         float64          `json:"marks"`
	NegativeMarks float64          `json:"negative_marks"`
}

type PlatformOption struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"deleted_at" gorm:"index"`
	QuestionID uint           `json:"question_id"`
	Position   int            `json:"position"`
	Text       string         `json:"text" gorm:"not null"`
	TextHindi  string         `json:"text_hindi"`
}
