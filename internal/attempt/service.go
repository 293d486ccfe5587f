// internal/attempt/service.go
package attempt

import (
	"errors"
	"log"
	"math"
	"time"

	"gorm.io/gorm"

	"quizroom-server/internal/models"
	"quizroom-server/internal/platform"
)

// Store is what the coordinator needs from persistence. *Repository
// satisfies it; tests plug in fakes.
type Store interface {
	GetRoomByCode(code string) (*models.Room, error)
	GetRoomByID(roomID uint) (*models.Room, error)
	GetParticipant(roomID, userID uint) (*models.RoomParticipant, error)
	CreateAttempt(attempt *models.RoomAttempt) error
	GetAttempt(roomID, userID uint) (*models.RoomAttempt, error)
	UpdateAttempt(attempt *models.RoomAttempt) error
	GetAnswer(attemptID, questionID uint) (*models.AttemptAnswer, error)
	UpdateAnswer(answer *models.AttemptAnswer) error
	LinkAttemptToRoster(roomID, userID, attemptID uint) error
	UpdateParticipantResult(roomID, userID uint, score float64, rank int) error
	ListInProgressAttempts(roomID uint) ([]models.RoomAttempt, error)
	ComputeRank(roomID uint, score float64, timeTakenSec int) (int, error)
	GetPlatformQuestion(questionID uint) (*models.PlatformQuestion, error)
}

// Broadcaster is the live update channel; see room.Broadcaster. Targeted
// sends reach only the named user's connection, if one is bound.
type Broadcaster interface {
	BroadcastMessage(roomCode string, messageType string, data interface{})
	SendMessageToUser(userID uint, messageType string, data interface{})
}

// BoardPublisher pushes the refreshed leaderboard after a submission.
// room.Service satisfies it.
type BoardPublisher interface {
	BroadcastLeaderboard(code string) error
}

type Service struct {
	repo    Store
	tests   platform.Source
	rewards platform.RewardEngine
	hub     Broadcaster
	boards  BoardPublisher
}

func NewService(repo Store, tests platform.Source, rewards platform.RewardEngine, hub Broadcaster, boards BoardPublisher) *Service {
	return &Service{
		repo:    repo,
		tests:   tests,
		rewards: rewards,
		hub:     hub,
		boards:  boards,
	}
}

// StartAttempt creates the participant's attempt exactly once per room. A
// repeat call, concurrent or not, returns the existing attempt rather than
// erroring, so flaky clients can retry freely. The uniqueness constraint on
// (room_id, user_id) is the only mutual exclusion: no in-process lock is
// held, and a lost insert race is resolved by re-reading the winner.
func (s *Service) StartAttempt(code string, userID uint) (*models.RoomAttempt, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetParticipant(room.ID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewForbidden("join the room before starting the quiz")
		}
		return nil, err
	}

	if attempt, err := s.repo.GetAttempt(room.ID, userID); err == nil {
		return attempt, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if err := checkRoomActive(room, time.Now()); err != nil {
		return nil, err
	}

	slots, err := s.snapshotQuestions(room)
	if err != nil {
		return nil, err
	}

	attempt := &models.RoomAttempt{
		RoomID:    room.ID,
		UserID:    userID,
		Status:    models.AttemptInProgress,
		StartedAt: time.Now(),
		Answers:   slots,
	}
	if err := s.repo.CreateAttempt(attempt); err != nil {
		if IsDuplicate(err) {
			// A concurrent start won the race; discard our work and hand
			// back the winner's attempt.
			winner, rerr := s.repo.GetAttempt(room.ID, userID)
			if rerr != nil {
				return nil, models.NewConflict("attempt already exists but could not be loaded")
			}
			return winner, nil
		}
		return nil, err
	}

	if err := s.repo.LinkAttemptToRoster(room.ID, userID, attempt.ID); err != nil {
		log.Printf("Error linking attempt %d to roster: %v", attempt.ID, err)
	}

	log.Printf("Started attempt %d for user %d in room %s", attempt.ID, userID, code)
	return attempt, nil
}

// SubmitAnswer records one selection with last-write-wins semantics: the
// slot is overwritten in place, no history kept. A skipped question (nil
// selection) never incurs the negative-mark penalty.
func (s *Service) SubmitAnswer(code string, userID uint, req *models.AnswerRequest) (*models.AnswerResult, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	// End time wins over the stored status field, so a lagging scheduler
	// tick cannot extend the quiz.
	if now.After(room.EndTime) {
		return nil, models.NewInvalidState("quiz time is over")
	}
	if err := checkRoomActive(room, now); err != nil {
		return nil, err
	}

	attempt, err := s.repo.GetAttempt(room.ID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("no attempt found, start the quiz first")
		}
		return nil, err
	}
	if attempt.Status == models.AttemptCompleted {
		return nil, models.NewInvalidState("attempt already submitted")
	}

	answer, err := s.repo.GetAnswer(attempt.ID, req.QuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("question is not part of this quiz")
		}
		return nil, err
	}

	correctOption, marks, negative, err := s.resolveScoring(room, req.QuestionID)
	if err != nil {
		return nil, err
	}

	answer.SelectedOption = req.SelectedOption
	answer.TimeSpentSec = req.TimeSpentSec
	switch {
	case req.SelectedOption == nil:
		answer.IsCorrect = false
		answer.MarksObtained = 0
	case *req.SelectedOption == correctOption:
		answer.IsCorrect = true
		answer.MarksObtained = marks
	default:
		answer.IsCorrect = false
		answer.MarksObtained = -negative
	}

	if err := s.repo.UpdateAnswer(answer); err != nil {
		return nil, err
	}

	s.hub.BroadcastMessage(code, "answer-update", map[string]interface{}{
		"userId":  userID,
		"message": "participant answered a question",
	})

	return &models.AnswerResult{
		IsCorrect:     answer.IsCorrect,
		MarksObtained: answer.MarksObtained,
	}, nil
}

// SubmitAttempt finalizes the attempt: totals, accuracy, time taken and the
// participant's rank at this moment. Submitting twice returns the completed
// attempt unchanged.
func (s *Service) SubmitAttempt(code string, userID uint) (*models.RoomAttempt, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.GetAttempt(room.ID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("no attempt found for this room")
		}
		return nil, err
	}
	if attempt.Status == models.AttemptCompleted {
		return attempt, nil
	}

	if err := s.finalizeAttempt(room, attempt, time.Now()); err != nil {
		return nil, err
	}

	if err := s.rewards.AwardRewardsForAttempt(userID, attempt); err != nil {
		log.Printf("Error awarding rewards for attempt %d: %v", attempt.ID, err)
	}
	if err := s.boards.BroadcastLeaderboard(code); err != nil {
		log.Printf("Error broadcasting leaderboard for room %s: %v", code, err)
	}
	s.sendResult(code, attempt)

	return attempt, nil
}

// sendResult pushes the finalized score privately to the submitting user.
func (s *Service) sendResult(code string, attempt *models.RoomAttempt) {
	s.hub.SendMessageToUser(attempt.UserID, "attempt-result", map[string]interface{}{
		"roomCode":     code,
		"score":        attempt.Score,
		"accuracy":     attempt.Accuracy,
		"rank":         attempt.Rank,
		"timeTakenSec": attempt.TimeTakenSec,
	})
}

// GetUserAttempt returns the participant's attempt in whatever state it is.
func (s *Service) GetUserAttempt(code string, userID uint) (*models.RoomAttempt, error) {
	room, err := s.getRoom(code)
	if err != nil {
		return nil, err
	}

	attempt, err := s.repo.GetAttempt(room.ID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("no attempt found for this room")
		}
		return nil, err
	}
	return attempt, nil
}

// AutoSubmitAll force-finalizes every in-progress attempt for a room. The
// scheduler calls it when the room's end time passes, so participants who
// never tapped submit still get scored. One broken attempt is logged and
// skipped, never aborting the sweep.
func (s *Service) AutoSubmitAll(roomID uint) error {
	room, err := s.repo.GetRoomByID(roomID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NewNotFound("room not found")
		}
		return err
	}

	attempts, err := s.repo.ListInProgressAttempts(roomID)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}

	now := time.Now()
	finalized := 0
	for i := range attempts {
		if err := s.finalizeAttempt(room, &attempts[i], now); err != nil {
			log.Printf("Error auto-submitting attempt %d in room %s: %v",
				attempts[i].ID, room.Code, err)
			continue
		}
		finalized++
		s.sendResult(room.Code, &attempts[i])
	}
	log.Printf("Auto-submitted %d/%d attempts for room %s", finalized, len(attempts), room.Code)

	if err := s.boards.BroadcastLeaderboard(room.Code); err != nil {
		log.Printf("Error broadcasting leaderboard for room %s: %v", room.Code, err)
	}
	return nil
}

// finalizeAttempt is the single scoring path shared by explicit submission
// and the scheduler's forced one.
func (s *Service) finalizeAttempt(room *models.Room, attempt *models.RoomAttempt, now time.Time) error {
	var score float64
	var correct, wrong, skipped int
	for _, answer := range attempt.Answers {
		score += answer.MarksObtained
		switch {
		case answer.SelectedOption == nil:
			skipped++
		case answer.IsCorrect:
			correct++
		default:
			wrong++
		}
	}

	accuracy := 0.0
	if correct+wrong > 0 {
		accuracy = float64(correct) / float64(correct+wrong) * 100
	}

	submittedAt := now
	attempt.Status = models.AttemptCompleted
	attempt.SubmittedAt = &submittedAt
	attempt.Score = math.Round(score*100) / 100
	attempt.Accuracy = math.Round(accuracy*100) / 100
	attempt.CorrectCount = correct
	attempt.WrongCount = wrong
	attempt.SkippedCount = skipped
	attempt.TimeTakenSec = int(now.Sub(attempt.StartedAt).Seconds())

	if err := s.repo.UpdateAttempt(attempt); err != nil {
		return err
	}

	// Rank reflects the attempts completed by now; later submitters compute
	// their own correct rank without touching this row again.
	rank, err := s.repo.ComputeRank(room.ID, attempt.Score, attempt.TimeTakenSec)
	if err != nil {
		return err
	}
	attempt.Rank = rank
	if err := s.repo.UpdateAttempt(attempt); err != nil {
		return err
	}

	if err := s.repo.UpdateParticipantResult(room.ID, attempt.UserID, attempt.Score, rank); err != nil {
		log.Printf("Error updating roster result for user %d in room %s: %v",
			attempt.UserID, room.Code, err)
	}
	return nil
}

func (s *Service) snapshotQuestions(room *models.Room) ([]models.AttemptAnswer, error) {
	switch room.Mode {
	case models.RoomModeCustom:
		if len(room.Questions) == 0 {
			return nil, models.NewNotFound("no questions found for this room")
		}
		slots := make([]models.AttemptAnswer, len(room.Questions))
		for i, q := range room.Questions {
			slots[i] = models.AttemptAnswer{QuestionID: q.ID, Position: q.Position}
		}
		return slots, nil

	case models.RoomModePlatformTest:
		questions, err := s.tests.GetQuestionsForTest(room.TestID)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 {
			return nil, models.NewNotFound("no questions found for this test")
		}
		slots := make([]models.AttemptAnswer, len(questions))
		for i, q := range questions {
			slots[i] = models.AttemptAnswer{QuestionID: q.ID, Position: q.Position}
		}
		return slots, nil

	default:
		return nil, models.NewInvalidState("unknown room mode")
	}
}

// resolveScoring looks up the correct option and marks at answer time: from
// the question record in custom mode, from room-level settings in
// platform_test mode.
func (s *Service) resolveScoring(room *models.Room, questionID uint) (int, float64, float64, error) {
	if room.Mode == models.RoomModeCustom {
		for _, q := range room.Questions {
			if q.ID == questionID {
				return q.CorrectOption, q.Marks, q.NegativeMarks, nil
			}
		}
		return 0, 0, 0, models.NewNotFound("question not found in this room")
	}

	question, err := s.repo.GetPlatformQuestion(questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, 0, models.NewNotFound("question not found")
		}
		return 0, 0, 0, err
	}
	return question.CorrectOption, room.MarksPerQuestion, room.NegativeMarks, nil
}

func (s *Service) getRoom(code string) (*models.Room, error) {
	room, err := s.repo.GetRoomByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("room not found")
		}
		return nil, err
	}
	return room, nil
}

func checkRoomActive(room *models.Room, now time.Time) error {
	switch room.Status {
	case models.RoomStatusScheduled:
		return models.NewInvalidState("quiz has not started yet, wait for the scheduled start time")
	case models.RoomStatusEnded:
		return models.NewInvalidState("quiz has already ended")
	case models.RoomStatusActive:
		if now.After(room.EndTime) {
			return models.NewInvalidState("quiz time is over")
		}
		return nil
	default:
		return models.NewInvalidState("room is not active")
	}
}
