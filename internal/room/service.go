// internal/room/service.go
package room

import (
	"errors"
	"log"
	"math"
	"math/rand"
	"time"

	"gorm.io/gorm"

	"quizroom-server/internal/models"
	"quizroom-server/internal/platform"
)

const (
	roomCodeLength      = 6
	roomCodeCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeMaxAttempts = 10

	defaultMaxParticipants = 100
	defaultPageSize        = 10
	maxPageSize            = 100
)

// Store is what the lifecycle manager needs from persistence. *Repository
// satisfies it; tests plug in fakes.
type Store interface {
	CreateRoom(room *models.Room) error
	CodeExists(code string) (bool, error)
	GetRoomByCode(code string) (*models.Room, error)
	GetRoomByID(roomID uint) (*models.Room, error)
	UpdateRoom(room *models.Room) error
	TransitionStatus(roomID uint, from []models.RoomStatus, to models.RoomStatus) (bool, error)
	AddParticipant(participant *models.RoomParticipant) error
	RemoveParticipant(roomID, userID uint) error
	GetParticipant(roomID, userID uint) (*models.RoomParticipant, error)
	CountParticipants(roomID uint) (int64, error)
	ListParticipants(roomID uint) ([]models.RoomParticipant, error)
	IncrementJoinedCount(roomID uint) error
	CreateQuestions(questions []models.RoomQuestion) error
	DueScheduledRooms() ([]models.Room, error)
	ExpiredRooms() ([]models.Room, error)
	CompletedStats(roomID uint) (int64, float64, error)
	LeaderboardPage(roomID uint, offset, limit int) ([]models.LeaderboardEntry, int64, error)
}

// Cache is the optional read-through room cache.
type Cache interface {
	SetRoom(room *models.Room) error
	GetRoom(code string) (*models.Room, error)
	InvalidateRoom(code string) error
	SetLeaderboard(roomCode string, entries []models.LeaderboardEntry) error
	GetLeaderboard(roomCode string) ([]models.LeaderboardEntry, error)
}

// Broadcaster is the live update channel. Publishing is fire-and-forget; a
// failed publish never rolls back the mutation that triggered it.
type Broadcaster interface {
	BroadcastMessage(roomCode string, messageType string, data interface{})
}

type Service struct {
	repo  Store
	cache Cache
	hub   Broadcaster
	tests platform.Source
}

func NewService(repo Store, cache Cache, hub Broadcaster, tests platform.Source) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		hub:   hub,
		tests: tests,
	}
}

// CreateRoom builds a room in scheduled status with the host enrolled as
// participant #1. platform_test mode takes duration and scoring from the
// referenced test unconditionally; whatever the caller sent is ignored.
func (s *Service) CreateRoom(hostID uint, req *models.CreateRoomRequest) (*models.Room, error) {
	now := time.Now()
	if !req.StartTime.After(now) {
		return nil, models.NewInvalidSchedule("start time must be in the future")
	}

	room := &models.Room{
		HostID:          hostID,
		Mode:            req.Mode,
		Status:          models.RoomStatusScheduled,
		StartTime:       req.StartTime,
		AllowLateJoin:   req.AllowLateJoin,
		MaxParticipants: req.MaxParticipants,
		ShowLeaderboard: true,
	}
	if req.ShowLeaderboard != nil {
		room.ShowLeaderboard = *req.ShowLeaderboard
	}
	if room.MaxParticipants <= 0 {
		room.MaxParticipants = defaultMaxParticipants
	}

	var customQuestions []models.RoomQuestion

	switch req.Mode {
	case models.RoomModePlatformTest:
		test, err := s.tests.GetTest(req.TestID)
		if err != nil {
			return nil, err
		}
		questions, err := s.tests.GetQuestionsForTest(req.TestID)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 {
			return nil, models.NewNotFound("test has no questions")
		}
		if test.DurationMinutes <= 0 {
			return nil, models.NewInvalidSchedule("test has no valid duration")
		}
		room.TestID = test.ID
		room.DurationMinutes = test.DurationMinutes
		room.MarksPerQuestion = test.MarksPerQuestion
		room.NegativeMarks = test.NegativeMarks
		room.TotalMarks = test.TotalMarks

	case models.RoomModeCustom:
		if len(req.Questions) == 0 {
			return nil, models.NewInvalidSchedule("custom room needs at least one question")
		}
		if req.DurationMinutes <= 0 {
			return nil, models.NewInvalidSchedule("room needs a positive duration")
		}
		room.DurationMinutes = req.DurationMinutes
		room.MarksPerQuestion = req.MarksPerQuestion
		if room.MarksPerQuestion <= 0 {
			room.MarksPerQuestion = 1
		}
		room.NegativeMarks = req.NegativeMarks
		room.TotalMarks = float64(len(req.Questions)) * room.MarksPerQuestion

		for i, q := range req.Questions {
			question := models.RoomQuestion{
				Position:      i,
				Text:          q.Text,
				TextHindi:     q.TextHindi,
				CorrectOption: q.CorrectOption,
				Marks:         room.MarksPerQuestion,
				NegativeMarks: room.NegativeMarks,
			}
			for j, opt := range q.Options {
				option := models.RoomOption{Position: j, Text: opt}
				if j < len(q.OptionsHindi) {
					option.TextHindi = q.OptionsHindi[j]
				}
				question.Options = append(question.Options, option)
			}
			customQuestions = append(customQuestions, question)
		}

	default:
		return nil, models.NewInvalidState("unknown room mode")
	}

	room.EndTime = room.StartTime.Add(time.Duration(room.DurationMinutes) * time.Minute)

	code, err := s.generateRoomCode()
	if err != nil {
		return nil, err
	}
	room.Code = code
	room.JoinedCount = 1

	if err := s.repo.CreateRoom(room); err != nil {
		return nil, err
	}

	if len(customQuestions) > 0 {
		for i := range customQuestions {
			customQuestions[i].RoomID = room.ID
		}
		if err := s.repo.CreateQuestions(customQuestions); err != nil {
			return nil, err
		}
		room.Questions = customQuestions
	}

	host := &models.RoomParticipant{
		RoomID:   room.ID,
		UserID:   hostID,
		JoinedAt: now,
	}
	if err := s.repo.AddParticipant(host); err != nil && !IsDuplicate(err) {
		return nil, err
	}

	if err := s.cache.SetRoom(room); err != nil {
		log.Printf("Error caching room %s: %v", room.Code, err)
	}

	log.Printf("Created %s room %s (host %d, starts %s)", room.Mode, room.Code, hostID, room.StartTime)
	return room, nil
}

// JoinRoom is idempotent: rejoining returns the existing roster entry with
// isNewJoin=false instead of an error.
func (s *Service) JoinRoom(code string, userID uint) (*models.JoinRoomResult, error) {
	room, err := s.getRoomFresh(code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if room.HasEnded(now) {
		return nil, models.NewInvalidState("this room has already ended")
	}

	if _, err := s.repo.GetParticipant(room.ID, userID); err == nil {
		return &models.JoinRoomResult{Room: room, IsNewJoin: false}, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	count, err := s.repo.CountParticipants(room.ID)
	if err != nil {
		return nil, err
	}
	if count >= int64(room.MaxParticipants) {
		return nil, models.NewRoomFull("room is full")
	}

	if room.Status == models.RoomStatusActive && room.HasStarted(now) && !room.AllowLateJoin {
		return nil, models.NewLateJoinDenied("quiz already started and late join is not allowed")
	}

	participant := &models.RoomParticipant{
		RoomID:   room.ID,
		UserID:   userID,
		JoinedAt: now,
	}
	if err := s.repo.AddParticipant(participant); err != nil {
		if IsDuplicate(err) {
			// A concurrent join for the same user won the race; same outcome.
			return &models.JoinRoomResult{Room: room, IsNewJoin: false}, nil
		}
		return nil, err
	}

	// Recount after the insert: two joins racing for the last seat can both
	// pass the check above, so the loser backs out here.
	newCount, err := s.repo.CountParticipants(room.ID)
	if err != nil {
		newCount = count + 1
	} else if newCount > int64(room.MaxParticipants) {
		if err := s.repo.RemoveParticipant(room.ID, userID); err != nil {
			log.Printf("Error removing overflow participant %d from room %s: %v", userID, code, err)
		}
		return nil, models.NewRoomFull("room is full")
	}

	if err := s.repo.IncrementJoinedCount(room.ID); err != nil {
		log.Printf("Error incrementing joined count for room %s: %v", code, err)
	}
	if err := s.cache.InvalidateRoom(code); err != nil {
		log.Printf("Error invalidating room cache %s: %v", code, err)
	}

	s.publishRoomUpdate(room, newCount)
	s.publishParticipantUpdate(room, "a new participant joined")

	return &models.JoinRoomResult{Room: room, IsNewJoin: true}, nil
}

// GetRoomByCode serves reads through the cache, falling back to the store.
func (s *Service) GetRoomByCode(code string) (*models.Room, error) {
	if room, err := s.cache.GetRoom(code); err == nil {
		return room, nil
	}

	room, err := s.getRoomFresh(code)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetRoom(room); err != nil {
		log.Printf("Error caching room %s: %v", code, err)
	}
	return room, nil
}

// StartRoom is the host-only scheduled -> active transition.
func (s *Service) StartRoom(code string, hostID uint) (*models.Room, error) {
	room, err := s.getRoomFresh(code)
	if err != nil {
		return nil, err
	}

	if room.HostID != hostID {
		return nil, models.NewForbidden("only the host can start the room")
	}
	if room.Status != models.RoomStatusScheduled {
		return nil, models.NewInvalidState("room is not in scheduled status")
	}

	moved, err := s.repo.TransitionStatus(room.ID,
		[]models.RoomStatus{models.RoomStatusScheduled}, models.RoomStatusActive)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Lost the race with the scheduler's auto-start tick; not an error.
		return s.getRoomFresh(code)
	}
	room.Status = models.RoomStatusActive

	if err := s.cache.InvalidateRoom(code); err != nil {
		log.Printf("Error invalidating room cache %s: %v", code, err)
	}

	s.PublishRoomStatus(room)
	s.publishRoomUpdate(room, int64(room.JoinedCount))

	return room, nil
}

// ActivateRoom promotes a scheduled room to active if it still is scheduled,
// otherwise it does nothing. Safe to call redundantly; the scheduler uses it.
func (s *Service) ActivateRoom(roomID uint) error {
	moved, err := s.repo.TransitionStatus(roomID,
		[]models.RoomStatus{models.RoomStatusScheduled}, models.RoomStatusActive)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	room, err := s.repo.GetRoomByID(roomID)
	if err != nil {
		return err
	}
	if err := s.cache.InvalidateRoom(room.Code); err != nil {
		log.Printf("Error invalidating room cache %s: %v", room.Code, err)
	}
	s.PublishRoomStatus(room)
	return nil
}

// EndRoom moves a room to ended and recomputes its aggregate stats from the
// finished attempts. Ending an already-ended room is a no-op.
func (s *Service) EndRoom(roomID uint) (*models.Room, error) {
	room, err := s.repo.GetRoomByID(roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("room not found")
		}
		return nil, err
	}

	if room.Status != models.RoomStatusEnded {
		if _, err := s.repo.TransitionStatus(roomID,
			[]models.RoomStatus{models.RoomStatusScheduled, models.RoomStatusActive},
			models.RoomStatusEnded); err != nil {
			return nil, err
		}
		room.Status = models.RoomStatusEnded
	}

	count, avg, err := s.repo.CompletedStats(roomID)
	if err != nil {
		return nil, err
	}
	room.CompletedCount = int(count)
	room.AverageScore = avg
	if err := s.repo.UpdateRoom(room); err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateRoom(room.Code); err != nil {
		log.Printf("Error invalidating room cache %s: %v", room.Code, err)
	}
	s.PublishRoomStatus(room)

	return room, nil
}

// DueScheduledRooms and ExpiredRooms feed the scheduler's sweeps.
func (s *Service) DueScheduledRooms() ([]models.Room, error) {
	return s.repo.DueScheduledRooms()
}

func (s *Service) ExpiredRooms() ([]models.Room, error) {
	return s.repo.ExpiredRooms()
}

// GetLeaderboard pages through finished attempts. Ranks come from the page
// offset, not the persisted rank field, so the displayed order is correct
// even while stragglers are still in progress.
func (s *Service) GetLeaderboard(roomID uint, page, pageSize int) (*models.LeaderboardPage, error) {
	if _, err := s.repo.GetRoomByID(roomID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("room not found")
		}
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	offset := (page - 1) * pageSize
	entries, total, err := s.repo.LeaderboardPage(roomID, offset, pageSize)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Rank = offset + i + 1
	}

	return &models.LeaderboardPage{
		Entries:    entries,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// BroadcastLeaderboard pushes the current top of the board to the room topic
// and refreshes the cached copy.
func (s *Service) BroadcastLeaderboard(code string) error {
	room, err := s.getRoomFresh(code)
	if err != nil {
		return err
	}

	pageData, err := s.GetLeaderboard(room.ID, 1, maxPageSize)
	if err != nil {
		return err
	}

	if err := s.cache.SetLeaderboard(code, pageData.Entries); err != nil {
		log.Printf("Error caching leaderboard for room %s: %v", code, err)
	}

	s.hub.BroadcastMessage(code, "leaderboard-update", map[string]interface{}{
		"leaderboard": pageData.Entries,
	})
	return nil
}

// PublishLeaderboard serves an on-demand board request, preferring the cached
// copy left by the last submission and recomputing only on a cache miss.
func (s *Service) PublishLeaderboard(code string) error {
	entries, err := s.cache.GetLeaderboard(code)
	if err == nil && len(entries) > 0 {
		s.hub.BroadcastMessage(code, "leaderboard-update", map[string]interface{}{
			"leaderboard": entries,
		})
		return nil
	}

	return s.BroadcastLeaderboard(code)
}

// PublishRoomStatus emits the room-status event, also used for on-demand
// client requests through the hub.
func (s *Service) PublishRoomStatus(room *models.Room) {
	remaining := time.Until(room.EndTime)
	if remaining < 0 || room.Status == models.RoomStatusEnded {
		remaining = 0
	}
	s.hub.BroadcastMessage(room.Code, "room-status", map[string]interface{}{
		"status":        room.Status,
		"startTime":     room.StartTime,
		"endTime":       room.EndTime,
		"timeRemaining": int(remaining.Seconds()),
	})
}

// PublishRoomStatusByCode resolves the room and emits room-status. The hub
// calls this when a client asks for the current state.
func (s *Service) PublishRoomStatusByCode(code string) error {
	room, err := s.getRoomFresh(code)
	if err != nil {
		return err
	}
	s.PublishRoomStatus(room)
	return nil
}

func (s *Service) getRoomFresh(code string) (*models.Room, error) {
	room, err := s.repo.GetRoomByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("room not found")
		}
		return nil, err
	}
	return room, nil
}

func (s *Service) publishRoomUpdate(room *models.Room, participantsCount int64) {
	s.hub.BroadcastMessage(room.Code, "room-update", map[string]interface{}{
		"roomCode":          room.Code,
		"status":            room.Status,
		"participantsCount": participantsCount,
	})
}

func (s *Service) publishParticipantUpdate(room *models.Room, message string) {
	participants, err := s.repo.ListParticipants(room.ID)
	if err != nil {
		log.Printf("Error listing participants for room %s: %v", room.Code, err)
		return
	}
	s.hub.BroadcastMessage(room.Code, "participant-update", map[string]interface{}{
		"participantsCount": len(participants),
		"participants":      participants,
		"message":           message,
	})
}

func (s *Service) generateRoomCode() (string, error) {
	for attempt := 0; attempt < roomCodeMaxAttempts; attempt++ {
		code := make([]byte, roomCodeLength)
		for i := range code {
			code[i] = roomCodeCharset[rand.Intn(len(roomCodeCharset))]
		}
		exists, err := s.repo.CodeExists(string(code))
		if err != nil {
			return "", err
		}
		if !exists {
			return string(code), nil
		}
	}
	return "", models.NewConflict("could not allocate a unique room code")
}
