// internal/room/repository.go
package room

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"quizroom-server/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateRoom(room *models.Room) error {
	err := r.db.Create(room).Error
	if err != nil {
		log.Printf("Error creating room: %v", err)
		return err
	}
	return nil
}

func (r *Repository) CodeExists(code string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Room{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

func (r *Repository) GetRoomByCode(code string) (*models.Room, error) {
	var room models.Room
	err := r.db.Preload("Participants").
		Preload("Questions.Options").
		Where("code = ?", code).
		First(&room).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repository) GetRoomByID(roomID uint) (*models.Room, error) {
	var room models.Room
	err := r.db.First(&room, roomID).Error
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *Repository) UpdateRoom(room *models.Room) error {
	return r.db.Save(room).Error
}

// TransitionStatus flips a room's status only when it still holds the
// expected one. Returns false when someone else already moved it, which the
// scheduler treats as a no-op rather than an error.
func (r *Repository) TransitionStatus(roomID uint, from []models.RoomStatus, to models.RoomStatus) (bool, error) {
	result := r.db.Model(&models.Room{}).
		Where("id = ? AND status IN ?", roomID, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) AddParticipant(participant *models.RoomParticipant) error {
	return r.db.Create(participant).Error
}

func (r *Repository) RemoveParticipant(roomID, userID uint) error {
	return r.db.Unscoped().
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&models.RoomParticipant{}).Error
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

func (r *Repository) CountParticipants(roomID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.RoomParticipant{}).
		Where("room_id = ?", roomID).
		Count(&count).Error
	return count, err
}

func (r *Repository) ListParticipants(roomID uint) ([]models.RoomParticipant, error) {
	var participants []models.RoomParticipant
	err := r.db.Where("room_id = ?", roomID).
		Order("joined_at asc").
		Find(&participants).Error
	return participants, err
}

func (r *Repository) IncrementJoinedCount(roomID uint) error {
	return r.db.Model(&models.Room{}).
		Where("id = ?", roomID).
		Update("joined_count", gorm.Expr("joined_count + 1")).Error
}

func (r *Repository) CreateQuestions(questions []models.RoomQuestion) error {
	return r.db.Create(&questions).Error
}

// DueScheduledRooms returns scheduled rooms whose start time has passed.
func (r *Repository) DueScheduledRooms() ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.Where("status = ? AND start_time <= NOW()", models.RoomStatusScheduled).
		Find(&rooms).Error
	return rooms, err
}

// ExpiredRooms returns rooms past their end time that are not ended yet. A
// scheduled room can expire without ever activating.
func (r *Repository) ExpiredRooms() ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.Where("status IN ? AND end_time <= NOW()",
		[]models.RoomStatus{models.RoomStatusScheduled, models.RoomStatusActive}).
		Find(&rooms).Error
	return rooms, err
}

// CompletedStats aggregates finished attempts for end-of-room bookkeeping.
func (r *Repository) CompletedStats(roomID uint) (int64, float64, error) {
	var row struct {
		Count int64
		Avg   float64
	}
	err := r.db.Model(&models.RoomAttempt{}).
		Select("COUNT(*) as count, COALESCE(AVG(score), 0) as avg").
		Where("room_id = ? AND status = ?", roomID, models.AttemptCompleted).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Count, row.Avg, nil
}

// LeaderboardPage reads completed attempts ordered by score desc then time
// taken asc, the same tie-break rank computation uses. In-progress attempts
// have no score yet and are excluded.
func (r *Repository) LeaderboardPage(roomID uint, offset, limit int) ([]models.LeaderboardEntry, int64, error) {
	var total int64
	err := r.db.Model(&models.RoomAttempt{}).
		Where("room_id = ? AND status = ?", roomID, models.AttemptCompleted).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var entries []models.LeaderboardEntry
	err = r.db.Raw(`
        SELECT u.id AS user_id, u.username, a.score, a.accuracy, a.time_taken_sec
        FROM room_attempts a
        JOIN users u ON u.id = a.user_id
        WHERE a.room_id = ? AND a.status = ? AND a.deleted_at IS NULL
        ORDER BY a.score DESC, a.time_taken_sec ASC
        OFFSET ? LIMIT ?
    `, roomID, models.AttemptCompleted, offset, limit).Scan(&entries).Error
	if err != nil {
		log.Printf("Error getting leaderboard for room %d: %v", roomID, err)
		return nil, 0, err
	}

	return entries, total, nil
}

// IsDuplicate reports whether err is the store's uniqueness-violation signal.
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
