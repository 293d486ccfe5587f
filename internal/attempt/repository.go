// internal/attempt/repository.go
package attempt

import (
	"errors"

	"gorm.io/gorm"

	"quizroom-server/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetRoomByCode(code string) (*models.Room, error) {
	var room models.Room
	err := r.db.Preload("Questions.Options").
		Where("code = ?", code).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repository) GetRoomByID(roomID uint) (*models.Room, error) {
	var room models.Room
	err := r.db.Preload("Questions.Options").First(&room, roomID).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repository) GetParticipant(roomID, userID uint) (*models.RoomParticipant, error) {
	var participant models.RoomParticipant
	err := r.db.Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&participant).Error
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

// CreateAttempt inserts the attempt together with its fixed answer slots.
// The (room_id, user_id) unique index makes this the point where concurrent
// start requests collide; callers treat gorm.ErrDuplicatedKey as "someone
// else won, re-read theirs".
func (r *Repository) CreateAttempt(attempt *models.RoomAttempt) error {
	return r.db.Create(attempt).Error
}

func (r *Repository) GetAttempt(roomID, userID uint) (*models.RoomAttempt, error) {
	var attempt models.RoomAttempt
	err := r.db.Preload("Answers", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&attempt).Error
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *Repository) UpdateAttempt(attempt *models.RoomAttempt) error {
	return r.db.Omit("Answers").Save(attempt).Error
}

func (r *Repository) GetAnswer(attemptID, questionID uint) (*models.AttemptAnswer, error) {
	var answer models.AttemptAnswer
	err := r.db.Where("attempt_id = ? AND question_id = ?", attemptID, questionID).
		First(&answer).Error
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (r *Repository) UpdateAnswer(answer *models.AttemptAnswer) error {
	return r.db.Save(answer).Error
}

// LinkAttemptToRoster records the attempt on the participant's roster entry.
func (r *Repository) LinkAttemptToRoster(roomID, userID, attemptID uint) error {
	return r.db.Model(&models.RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("attempt_id", attemptID).Error
}

func (r *Repository) UpdateParticipantResult(roomID, userID uint, score float64, rank int) error {
	return r.db.Model(&models.RoomParticipant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{
			"last_score": score,
			"last_rank":  rank,
		}).Error
}

func (r *Repository) ListInProgressAttempts(roomID uint) ([]models.RoomAttempt, error) {
	var attempts []models.RoomAttempt
	err := r.db.Preload("Answers").
		Where("room_id = ? AND status = ?", roomID, models.AttemptInProgress).
		Find(&attempts).Error
	return attempts, err
}

// ComputeRank returns the 1-based position of (score, timeTaken) among the
// room's completed attempts under the score-desc, time-asc ordering. It only
// sees attempts completed so far; later submitters rank themselves without
// retroactively correcting earlier rows.
func (r *Repository) ComputeRank(roomID uint, score float64, timeTakenSec int) (int, error) {
	var better int64
	err := r.db.Model(&models.RoomAttempt{}).
		Where("room_id = ? AND status = ?", roomID, models.AttemptCompleted).
		Where("score > ? OR (score = ? AND time_taken_sec < ?)", score, score, timeTakenSec).
		Count(&better).Error
	if err != nil {
		return 0, err
	}
	return int(better) + 1, nil
}

func (r *Repository) GetPlatformQuestion(questionID uint) (*models.PlatformQuestion, error) {
	var question models.PlatformQuestion
	err := r.db.First(&question, questionID).Error
	if err != nil {
		return nil, err
	}
	return &question, nil
}

// IsDuplicate reports whether err is the store's uniqueness-violation signal.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
