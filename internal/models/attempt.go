// internal/models/attempt.go
package models

import (
	"time"

	"gorm.io/gorm"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// RoomAttempt is one participant's full answer set for a room. The
// (room_id, user_id) unique index enforces the exactly-one-attempt invariant:
// concurrent starts race on the insert and the loser re-reads the winner.
type RoomAttempt struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	RoomID uint          `json:"room_id" gorm:"not null;uniqueIndex:idx_room_attempt_user"`
	UserID uint          `json:"user_id" gorm:"not null;uniqueIndex:idx_room_attempt_user"`
	Status AttemptStatus `json:"status" gorm:"default:in_progress"`

	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at"`

	Score        float64 `json:"score"`
	Accuracy     float64 `json:"accuracy"`
	CorrectCount int     `json:"correct_count"`
	WrongCount   int     `json:"wrong_count"`
	SkippedCount int     `json:"skipped_count"`
	Rank         int     `json:"rank"`
	TimeTakenSec int     `json:"time_taken_sec"`

	Answers []AttemptAnswer `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
}

// AttemptAnswer is one answer slot. The slot set is fixed when the attempt is
// created (one per question, selection null) and only ever updated in place.
type AttemptAnswer struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	AttemptID      uint    `json:"attempt_id" gorm:"not null;uniqueIndex:idx_attempt_question"`
	QuestionID     uint    `json:"question_id" gorm:"not null;uniqueIndex:idx_attempt_question"`
	Position       int     `json:"position"`
	SelectedOption *int    `json:"selected_option"` // nil = skipped
	IsCorrect      bool    `json:"is_correct"`
	MarksObtained  float64 `json:"marks_obtained"`
	TimeSpentSec   int     `json:"time_spent_sec"`
}
