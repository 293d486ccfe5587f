// internal/models/dto.go
package models

import "time"

type CustomQuestionInput struct {
	Text          string   `json:"text"`
	TextHindi     string   `json:"text_hindi"`
	Options       []string `json:"options"`
	OptionsHindi  []string `json:"options_hindi"`
	CorrectOption int      `json:"correct_option"`
}

type CreateRoomRequest struct {
	Mode             RoomMode              `json:"mode"`
	TestID           uint                  `json:"test_id"`
	Questions        []CustomQuestionInput `json:"questions"`
	StartTime        time.Time             `json:"start_time"`
	DurationMinutes  int                   `json:"duration_minutes"`
	MarksPerQuestion float64               `json:"marks_per_question"`
	NegativeMarks    float64               `json:"negative_marks"`
	AllowLateJoin    bool                  `json:"allow_late_join"`
	MaxParticipants  int                   `json:"max_participants"`
	ShowLeaderboard  *bool                 `json:"show_leaderboard"`
}

type JoinRoomResult struct {
	Room      *Room `json:"room"`
	IsNewJoin bool  `json:"is_new_join"`
}

type AnswerRequest struct {
	QuestionID     uint `json:"question_id"`
	SelectedOption *int `json:"selected_option"`
	TimeSpentSec   int  `json:"time_spent_sec"`
}

type AnswerResult struct {
	IsCorrect     bool    `json:"is_correct"`
	MarksObtained float64 `json:"marks_obtained"`
}

type LeaderboardEntry struct {
	UserID       uint    `json:"user_id"`
	Username     string  `json:"username"`
	Score        float64 `json:"score"`
	Accuracy     float64 `json:"accuracy"`
	TimeTakenSec int     `json:"time_taken_sec"`
	Rank         int     `json:"rank"`
}

type LeaderboardPage struct {
	Entries    []LeaderboardEntry `json:"entries"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	Total      int64              `json:"total"`
	TotalPages int                `json:"total_pages"`
}

type QuestionDTO struct {
	ID            uint        `json:"id"`
	Position      int         `json:"position"`
	Text          string      `json:"text"`
	TextHindi     string      `json:"text_hindi,omitempty"`
	Options       []OptionDTO `json:"options"`
	Marks         float64     `json:"marks"`
	NegativeMarks float64     `json:"negative_marks"`
	CorrectOption *int        `json:"correct_option,omitempty"` // host only
}

type OptionDTO struct {
	Position  int    `json:"position"`
	Text      string `json:"text"`
	TextHindi string `json:"text_hindi,omitempty"`
}

func (q RoomQuestion) ToDTO(isHost bool) QuestionDTO {
	opts := make([]OptionDTO, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionDTO{Position: o.Position, Text: o.Text, TextHindi: o.TextHindi}
	}
	dto := QuestionDTO{
		ID:            q.ID,
		Position:      q.Position,
		Text:          q.Text,
		TextHindi:     q.TextHindi,
		Options:       opts,
		Marks:         q.Marks,
		NegativeMarks: q.NegativeMarks,
	}
	if isHost {
		correct := q.CorrectOption
		dto.CorrectOption = &correct
	}
	return dto
}

func (q PlatformQuestion) ToDTO(isHost bool) QuestionDTO {
	opts := make([]OptionDTO, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionDTO{Position: o.Position, Text: o.Text, TextHindi: o.TextHindi}
	}
	dto := QuestionDTO{
		ID:            q.ID,
		Position:      q.Position,
		Text:          q.Text,
		TextHindi:     q.TextHindi,
		Options:       opts,
		Marks:         q.Marks,
		NegativeMarks: q.NegativeMarks,
	}
	if isHost {
		correct := q.CorrectOption
		dto.CorrectOption = &correct
	}
	return dto
}
