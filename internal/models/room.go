// internal/models/room.go
package models

import (
	"time"

	"gorm.io/gorm"
)

type RoomMode string

const (
	RoomModePlatformTest RoomMode = "platform_test"
	RoomModeCustom       RoomMode = "custom"
)

type RoomStatus string

const (
	RoomStatusScheduled RoomStatus = "scheduled"
	RoomStatusActive    RoomStatus = "active"
	RoomStatusEnded     RoomStatus = "ended"
)

// Room is one scheduled/live/ended quiz session. EndTime is fixed at creation
// (StartTime + Duration) and never recomputed. Status only moves forward:
// scheduled -> active -> ended.
type Room struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	Code   string     `json:"code" gorm:"uniqueIndex;size:6;not null"`
	HostID uint       `json:"host_id" gorm:"not null"`
	Mode   RoomMode   `json:"mode" gorm:"not null"`
	TestID uint       `json:"test_id"` // platform_test mode only
	Status RoomStatus `json:"status" gorm:"default:scheduled;index"`

	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time" gorm:"index"`
	DurationMinutes int       `json:"duration_minutes"`

	MarksPerQuestion float64 `json:"marks_per_question"`
	NegativeMarks    float64 `json:"negative_marks"`
	TotalMarks       float64 `json:"total_marks"`

	AllowLateJoin   bool `json:"allow_late_join"`
	MaxParticipants int  `json:"max_participants"`
	ShowLeaderboard bool `json:"show_leaderboard"`

	JoinedCount    int     `json:"joined_count"`
	CompletedCount int     `json:"completed_count"`
	AverageScore   float64 `json:"average_score"`

	Participants []RoomParticipant `json:"participants,omitempty" gorm:"foreignKey:RoomID"`
	Questions    []RoomQuestion    `json:"questions,omitempty" gorm:"foreignKey:RoomID"`
}

// HasStarted reports whether the scheduled start time has passed.
func (r *Room) HasStarted(now time.Time) bool {
	return !now.Before(r.StartTime)
}

// HasEnded is true once the wall clock passes EndTime, regardless of the
// stored status field. Guards against scheduler tick lag.
func (r *Room) HasEnded(now time.Time) bool {
	return r.Status == RoomStatusEnded || now.After(r.EndTime)
}

// RoomParticipant is one roster entry. The (room_id, user_id) unique index is
// what makes join idempotent across concurrent requests.
type RoomParticipant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	RoomID    uint      `json:"room_id" gorm:"not null;uniqueIndex:idx_room_participant"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_room_participant"`
	JoinedAt  time.Time `json:"joined_at"`
	AttemptID uint      `json:"attempt_id"`
	LastScore float64   `json:"last_score"`
	LastRank  int       `json:"last_rank"`
}
