// internal/platform/source.go
package platform

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"quizroom-server/internal/models"
)

// Source is the question pool for platform_test rooms. The room subsystem
// only ever reads from it.
type Source interface {
	GetTest(testID uint) (*models.PlatformTest, error)
	GetQuestionsForTest(testID uint) ([]models.PlatformQuestion, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetTest(testID uint) (*models.PlatformTest, error) {
	var test models.PlatformTest
	err := r.db.First(&test, testID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFound("test not found")
		}
		return nil, err
	}
	return &test, nil
}

func (r *Repository) GetQuestionsForTest(testID uint) ([]models.PlatformQuestion, error) {
	var questions []models.PlatformQuestion
	err := r.db.Where("test_id = ?", testID).
		Preload("Options").
		Order("position asc").
		Find(&questions).Error
	if err != nil {
		log.Printf("Error getting questions for test %d: %v", testID, err)
		return nil, err
	}
	return questions, nil
}
