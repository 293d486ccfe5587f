// internal/platform/rewards.go
package platform

import (
	"log"

	"quizroom-server/internal/models"
)

// RewardEngine is called once per finalized attempt. Reward math lives
// outside the room subsystem; failures here never fail a submission.
type RewardEngine interface {
	AwardRewardsForAttempt(userID uint, attempt *models.RoomAttempt) error
}

// LogRewardEngine records the award event without computing anything. It
// stands in wherever the real gamification service is not wired up.
type LogRewardEngine struct{}

func NewLogRewardEngine() *LogRewardEngine {
	return &LogRewardEngine{}
}

func (e *LogRewardEngine) AwardRewardsForAttempt(userID uint, attempt *models.RoomAttempt) error {
	log.Printf("Rewards: user %d finished attempt %d with score %.2f (rank %d)",
		userID, attempt.ID, attempt.Score, attempt.Rank)
	return nil
}
