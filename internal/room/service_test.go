// internal/room/service_test.go
package room

import (
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"quizroom-server/internal/models"
)

type roomUser struct {
	roomID uint
	userID uint
}

type fakeStore struct {
	mu           sync.Mutex
	rooms        map[uint]*models.Room
	roomsByCode  map[string]*models.Room
	participants map[roomUser]*models.RoomParticipant
	attempts     []models.RoomAttempt
	usernames    map[uint]string
	nextID       uint

	// Runs just before an AddParticipant insert, letting a test squeeze a
	// competing join into the check-then-insert window.
	beforeAddParticipant func()

	leaderboardPageCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:        make(map[uint]*models.Room),
		roomsByCode:  make(map[string]*models.Room),
		participants: make(map[roomUser]*models.RoomParticipant),
		usernames:    make(map[uint]string),
	}
}

func (f *fakeStore) CreateRoom(room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	room.ID = f.nextID
	f.rooms[room.ID] = room
	f.roomsByCode[room.Code] = room
	return nil
}

func (f *fakeStore) CodeExists(code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roomsByCode[code]
	return ok, nil
}

func (f *fakeStore) GetRoomByCode(code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.roomsByCode[code]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return room, nil
}

func (f *fakeStore) GetRoomByID(roomID uint) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return room, nil
}

func (f *fakeStore) UpdateRoom(room *models.Room) error {
	return nil
}

func (f *fakeStore) TransitionStatus(roomID uint, from []models.RoomStatus, to models.RoomStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if room.Status == status {
			room.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AddParticipant(participant *models.RoomParticipant) error {
	if f.beforeAddParticipant != nil {
		hook := f.beforeAddParticipant
		f.beforeAddParticipant = nil
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := roomUser{participant.RoomID, participant.UserID}
	if _, exists := f.participants[key]; exists {
		return gorm.ErrDuplicatedKey
	}
	f.nextID++
	participant.ID = f.nextID
	f.participants[key] = participant
	return nil
}

func (f *fakeStore) RemoveParticipant(roomID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants, roomUser{roomID, userID})
	return nil
}

func (f *fakeStore) GetParticipant(roomID, userID uint) (*models.RoomParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	participant, ok := f.participants[roomUser{roomID, userID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return participant, nil
}

func (f *fakeStore) CountParticipants(roomID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for key := range f.participants {
		if key.roomID == roomID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListParticipants(roomID uint) ([]models.RoomParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var participants []models.RoomParticipant
	for key, participant := range f.participants {
		if key.roomID == roomID {
			participants = append(participants, *participant)
		}
	}
	return participants, nil
}

func (f *fakeStore) IncrementJoinedCount(roomID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[roomID]; ok {
		room.JoinedCount++
	}
	return nil
}

func (f *fakeStore) CreateQuestions(questions []models.RoomQuestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range questions {
		f.nextID++
		questions[i].ID = f.nextID
	}
	return nil
}

func (f *fakeStore) DueScheduledRooms() ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var due []models.Room
	for _, room := range f.rooms {
		if room.Status == models.RoomStatusScheduled && !room.StartTime.After(now) {
			due = append(due, *room)
		}
	}
	return due, nil
}

func (f *fakeStore) ExpiredRooms() ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var expired []models.Room
	for _, room := range f.rooms {
		if room.Status != models.RoomStatusEnded && !room.EndTime.After(now) {
			expired = append(expired, *room)
		}
	}
	return expired, nil
}

func (f *fakeStore) CompletedStats(roomID uint) (int64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	var sum float64
	for _, attempt := range f.attempts {
		if attempt.RoomID == roomID && attempt.Status == models.AttemptCompleted {
			count++
			sum += attempt.Score
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return count, sum / float64(count), nil
}

func (f *fakeStore) LeaderboardPage(roomID uint, offset, limit int) ([]models.LeaderboardEntry, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboardPageCalls++
	var completed []models.RoomAttempt
	for _, attempt := range f.attempts {
		if attempt.RoomID == roomID && attempt.Status == models.AttemptCompleted {
			completed = append(completed, attempt)
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		if completed[i].Score != completed[j].Score {
			return completed[i].Score > completed[j].Score
		}
		return completed[i].TimeTakenSec < completed[j].TimeTakenSec
	})
	total := int64(len(completed))
	if offset > len(completed) {
		offset = len(completed)
	}
	end := offset + limit
	if end > len(completed) {
		end = len(completed)
	}
	var entries []models.LeaderboardEntry
	for _, attempt := range completed[offset:end] {
		entries = append(entries, models.LeaderboardEntry{
			UserID:       attempt.UserID,
			Username:     f.usernames[attempt.UserID],
			Score:        attempt.Score,
			TimeTakenSec: attempt.TimeTakenSec,
		})
	}
	return entries, total, nil
}

type fakeCache struct {
	mu           sync.Mutex
	rooms        map[string]*models.Room
	leaderboards map[string][]models.LeaderboardEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		rooms:        make(map[string]*models.Room),
		leaderboards: make(map[string][]models.LeaderboardEntry),
	}
}

func (f *fakeCache) SetRoom(room *models.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room.Code] = room
	return nil
}

func (f *fakeCache) GetRoom(code string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[code]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return room, nil
}

func (f *fakeCache) InvalidateRoom(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, code)
	return nil
}

func (f *fakeCache) SetLeaderboard(roomCode string, entries []models.LeaderboardEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboards[roomCode] = entries
	return nil
}

func (f *fakeCache) GetLeaderboard(roomCode string) ([]models.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderboards[roomCode], nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeHub) BroadcastMessage(roomCode, messageType string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, messageType)
}

func (f *fakeHub) has(messageType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range f.events {
		if event == messageType {
			return true
		}
	}
	return false
}

type fakeSource struct {
	tests     map[uint]*models.PlatformTest
	questions map[uint][]models.PlatformQuestion
}

func (f *fakeSource) GetTest(testID uint) (*models.PlatformTest, error) {
	test, ok := f.tests[testID]
	if !ok {
		return nil, models.NewNotFound("test not found")
	}
	return test, nil
}

func (f *fakeSource) GetQuestionsForTest(testID uint) ([]models.PlatformQuestion, error) {
	return f.questions[testID], nil
}

func newTestService() (*Service, *fakeStore, *fakeHub, *fakeSource) {
	store := newFakeStore()
	hub := &fakeHub{}
	source := &fakeSource{
		tests:     make(map[uint]*models.PlatformTest),
		questions: make(map[uint][]models.PlatformQuestion),
	}
	service := NewService(store, newFakeCache(), hub, source)
	return service, store, hub, source
}

func customCreateRequest(start time.Time) *models.CreateRoomRequest {
	return &models.CreateRoomRequest{
		Mode:             models.RoomModeCustom,
		StartTime:        start,
		DurationMinutes:  30,
		MarksPerQuestion: 2,
		NegativeMarks:    0.5,
		Questions: []models.CustomQuestionInput{
			{Text: "q1", Options: []string{"a", "b", "c", "d"}, CorrectOption: 1},
			{Text: "q2", Options: []string{"a", "b", "c", "d"}, CorrectOption: 2},
		},
	}
}

func TestCreateRoomGeneratesWellFormedCode(t *testing.T) {
	service, _, _, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), room.Code)
	assert.Equal(t, models.RoomStatusScheduled, room.Status)
	assert.Equal(t, 1, room.JoinedCount) // host enrolled as participant #1
	assert.Equal(t, 4.0, room.TotalMarks)
	assert.Equal(t, room.StartTime.Add(30*time.Minute), room.EndTime)
}

func TestCreateRoomRejectsPastStartTime(t *testing.T) {
	service, _, _, _ := newTestService()

	_, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(-time.Minute)))
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeInvalidSchedule, derr.Code)
}

func TestCreateRoomCustomRequiresQuestions(t *testing.T) {
	service, _, _, _ := newTestService()

	req := customCreateRequest(time.Now().Add(time.Hour))
	req.Questions = nil
	_, err := service.CreateRoom(1, req)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeInvalidSchedule, derr.Code)
}

func TestCreateRoomPlatformTestOverridesDuration(t *testing.T) {
	service, _, _, source := newTestService()

	source.tests[9] = &models.PlatformTest{
		ID:               9,
		DurationMinutes:  45,
		MarksPerQuestion: 4,
		NegativeMarks:    1,
		TotalMarks:       200,
	}
	source.questions[9] = []models.PlatformQuestion{{ID: 1, Position: 0, Text: "q"}}

	req := &models.CreateRoomRequest{
		Mode:            models.RoomModePlatformTest,
		TestID:          9,
		StartTime:       time.Now().Add(time.Hour),
		DurationMinutes: 10, // caller's value, must be ignored
	}
	room, err := service.CreateRoom(1, req)
	require.NoError(t, err)

	assert.Equal(t, 45, room.DurationMinutes)
	assert.Equal(t, 4.0, room.MarksPerQuestion)
	assert.Equal(t, room.StartTime.Add(45*time.Minute), room.EndTime)
}

func TestCreateRoomPlatformTestWithoutQuestionsFails(t *testing.T) {
	service, _, _, source := newTestService()

	source.tests[9] = &models.PlatformTest{ID: 9, DurationMinutes: 45}

	req := &models.CreateRoomRequest{
		Mode:      models.RoomModePlatformTest,
		TestID:    9,
		StartTime: time.Now().Add(time.Hour),
	}
	_, err := service.CreateRoom(1, req)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeNotFound, derr.Code)
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	service, store, hub, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	first, err := service.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	assert.True(t, first.IsNewJoin)

	second, err := service.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	assert.False(t, second.IsNewJoin)

	count, err := store.CountParticipants(room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count) // host + one participant, not three
	assert.True(t, hub.has("participant-update"))
	assert.True(t, hub.has("room-update"))
}

func TestJoinRoomUnknownCode(t *testing.T) {
	service, _, _, _ := newTestService()

	_, err := service.JoinRoom("NOPE99", 2)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeNotFound, derr.Code)
}

func TestJoinRoomFull(t *testing.T) {
	service, _, _, _ := newTestService()

	req := customCreateRequest(time.Now().Add(time.Hour))
	req.MaxParticipants = 2
	room, err := service.CreateRoom(1, req)
	require.NoError(t, err)

	_, err = service.JoinRoom(room.Code, 2)
	require.NoError(t, err)

	_, err = service.JoinRoom(room.Code, 3)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeRoomFull, derr.Code)
}

func TestJoinRoomLateJoinDenied(t *testing.T) {
	service, store, _, _ := newTestService()

	req := customCreateRequest(time.Now().Add(time.Hour))
	req.AllowLateJoin = false
	room, err := service.CreateRoom(1, req)
	require.NoError(t, err)

	// The room went active and its start time has passed.
	stored, _ := store.GetRoomByID(room.ID)
	stored.Status = models.RoomStatusActive
	stored.StartTime = time.Now().Add(-time.Minute)

	_, err = service.JoinRoom(room.Code, 2)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeLateJoinDenied, derr.Code)
}

func TestJoinRoomAllowedLate(t *testing.T) {
	service, store, _, _ := newTestService()

	req := customCreateRequest(time.Now().Add(time.Hour))
	req.AllowLateJoin = true
	room, err := service.CreateRoom(1, req)
	require.NoError(t, err)

	stored, _ := store.GetRoomByID(room.ID)
	stored.Status = models.RoomStatusActive
	stored.StartTime = time.Now().Add(-time.Minute)

	result, err := service.JoinRoom(room.Code, 2)
	require.NoError(t, err)
	assert.True(t, result.IsNewJoin)
}

func TestJoinRoomEnded(t *testing.T) {
	service, store, _, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	// Past end time is enough, even if the status field lags.
	stored, _ := store.GetRoomByID(room.ID)
	stored.EndTime = time.Now().Add(-time.Second)

	_, err = service.JoinRoom(room.Code, 2)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeInvalidState, derr.Code)
}

func TestStartRoomHostOnly(t *testing.T) {
	service, _, _, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, err = service.StartRoom(room.Code, 99)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeForbidden, derr.Code)

	started, err := service.StartRoom(room.Code, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusActive, started.Status)

	// Starting twice is an invalid transition for a human caller.
	_, err = service.StartRoom(room.Code, 1)
	require.Error(t, err)
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeInvalidState, derr.Code)
}

func TestActivateRoomIsIdempotent(t *testing.T) {
	service, store, _, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	require.NoError(t, service.ActivateRoom(room.ID))
	require.NoError(t, service.ActivateRoom(room.ID)) // redundant call is a no-op

	stored, _ := store.GetRoomByID(room.ID)
	assert.Equal(t, models.RoomStatusActive, stored.Status)
}

func TestEndRoomIdempotentAndRecomputesStats(t *testing.T) {
	service, store, hub, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	store.attempts = []models.RoomAttempt{
		{RoomID: room.ID, UserID: 1, Status: models.AttemptCompleted, Score: 8},
		{RoomID: room.ID, UserID: 2, Status: models.AttemptCompleted, Score: 4},
		{RoomID: room.ID, UserID: 3, Status: models.AttemptInProgress},
	}

	ended, err := service.EndRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusEnded, ended.Status)
	assert.Equal(t, 2, ended.CompletedCount)
	assert.Equal(t, 6.0, ended.AverageScore)
	assert.True(t, hub.has("room-status"))

	again, err := service.EndRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusEnded, again.Status)
}

func TestJoinRoomConcurrentLastSeatOverfillRollsBack(t *testing.T) {
	service, store, _, _ := newTestService()

	req := customCreateRequest(time.Now().Add(time.Hour))
	req.MaxParticipants = 2
	room, err := service.CreateRoom(1, req)
	require.NoError(t, err)

	// A competing join lands in the check-then-insert window for the last
	// seat; the second writer must back out.
	store.beforeAddParticipant = func() {
		require.NoError(t, store.AddParticipant(&models.RoomParticipant{
			RoomID: room.ID,
			UserID: 2,
		}))
	}

	_, err = service.JoinRoom(room.Code, 3)
	require.Error(t, err)
	var derr *models.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, models.ErrCodeRoomFull, derr.Code)

	count, err := store.CountParticipants(room.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = store.GetParticipant(room.ID, 3)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPublishLeaderboardServesCachedCopy(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	cache := newFakeCache()
	source := &fakeSource{tests: make(map[uint]*models.PlatformTest)}
	service := NewService(store, cache, hub, source)

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	cache.leaderboards[room.Code] = []models.LeaderboardEntry{
		{UserID: 1, Score: 10, Rank: 1},
	}
	store.leaderboardPageCalls = 0

	require.NoError(t, service.PublishLeaderboard(room.Code))
	assert.True(t, hub.has("leaderboard-update"))
	assert.Equal(t, 0, store.leaderboardPageCalls) // cache hit, store untouched
}

func TestPublishLeaderboardRecomputesOnCacheMiss(t *testing.T) {
	store := newFakeStore()
	hub := &fakeHub{}
	cache := newFakeCache()
	source := &fakeSource{tests: make(map[uint]*models.PlatformTest)}
	service := NewService(store, cache, hub, source)

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	store.attempts = []models.RoomAttempt{
		{RoomID: room.ID, UserID: 1, Status: models.AttemptCompleted, Score: 10, TimeTakenSec: 60},
	}
	store.leaderboardPageCalls = 0

	require.NoError(t, service.PublishLeaderboard(room.Code))
	assert.True(t, hub.has("leaderboard-update"))
	assert.Equal(t, 1, store.leaderboardPageCalls)
	assert.Len(t, cache.leaderboards[room.Code], 1) // refreshed for the next request
}

func TestLeaderboardRanksFromPageOffset(t *testing.T) {
	service, store, _, _ := newTestService()

	room, err := service.CreateRoom(1, customCreateRequest(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	store.attempts = []models.RoomAttempt{
		{RoomID: room.ID, UserID: 1, Status: models.AttemptCompleted, Score: 10, TimeTakenSec: 120},
		{RoomID: room.ID, UserID: 2, Status: models.AttemptCompleted, Score: 8, TimeTakenSec: 90},
		{RoomID: room.ID, UserID: 3, Status: models.AttemptCompleted, Score: 10, TimeTakenSec: 100},
		{RoomID: room.ID, UserID: 4, Status: models.AttemptCompleted, Score: 5, TimeTakenSec: 200},
		{RoomID: room.ID, UserID: 5, Status: models.AttemptInProgress},
	}

	page, err := service.GetLeaderboard(room.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, uint(3), page.Entries[0].UserID) // score 10, faster
	assert.Equal(t, 1, page.Entries[0].Rank)
	assert.Equal(t, uint(1), page.Entries[1].UserID)
	assert.Equal(t, 2, page.Entries[1].Rank)
	assert.Equal(t, int64(4), page.Total) // the in-progress attempt is invisible
	assert.Equal(t, 2, page.TotalPages)

	page, err = service.GetLeaderboard(room.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 3, page.Entries[0].Rank) // offset carries into the rank
	assert.Equal(t, uint(2), page.Entries[0].UserID)
	assert.Equal(t, 4, page.Entries[1].Rank)
}
