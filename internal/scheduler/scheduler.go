// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"quizroom-server/internal/models"
)

const DefaultTick = time.Minute

// RoomLifecycle is the slice of room.Service the scheduler drives. Both
// transitions are idempotent, so a redundant call is a no-op, never an error.
type RoomLifecycle interface {
	DueScheduledRooms() ([]models.Room, error)
	ExpiredRooms() ([]models.Room, error)
	ActivateRoom(roomID uint) error
	EndRoom(roomID uint) (*models.Room, error)
}

// AttemptFinalizer force-submits whatever is still in progress when a room's
// time runs out. attempt.Service satisfies it.
type AttemptFinalizer interface {
	AutoSubmitAll(roomID uint) error
}

// Scheduler runs the two time-based sweeps: auto-start promotes scheduled
// rooms past their start time, auto-end closes rooms past their end time.
// The sweeps call the same service entry points a user action would, so all
// the store-level concurrency guarantees apply unchanged.
type Scheduler struct {
	rooms    RoomLifecycle
	attempts AttemptFinalizer
	tick     time.Duration
}

func New(rooms RoomLifecycle, attempts AttemptFinalizer, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		rooms:    rooms,
		attempts: attempts,
		tick:     tick,
	}
}

// Run blocks until ctx is cancelled, driving both sweeps on independent
// tickers with no ordering guarantee between them.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(ctx, "auto-start", s.AutoStartSweep)
	})
	g.Go(func() error {
		return s.loop(ctx, "auto-end", s.AutoEndSweep)
	})

	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, sweep func()) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	log.Printf("Scheduler %s task running every %s", name, s.tick)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Scheduler %s task stopped", name)
			return ctx.Err()
		case <-ticker.C:
			sweep()
		}
	}
}

// AutoStartSweep activates every scheduled room whose start time has passed.
// A failure for one room is logged and does not abort the scan.
func (s *Scheduler) AutoStartSweep() {
	rooms, err := s.rooms.DueScheduledRooms()
	if err != nil {
		log.Printf("Scheduler: error listing due rooms: %v", err)
		return
	}

	for _, room := range rooms {
		if err := s.rooms.ActivateRoom(room.ID); err != nil {
			log.Printf("Scheduler: error activating room %s: %v", room.Code, err)
			continue
		}
		log.Printf("Scheduler: activated room %s", room.Code)
	}
}

// AutoEndSweep finalizes pending attempts and ends every room past its end
// time. A room that expired while still scheduled (never activated, or the
// two sweeps raced) simply has zero attempts to finalize.
func (s *Scheduler) AutoEndSweep() {
	rooms, err := s.rooms.ExpiredRooms()
	if err != nil {
		log.Printf("Scheduler: error listing expired rooms: %v", err)
		return
	}

	for _, room := range rooms {
		if err := s.attempts.AutoSubmitAll(room.ID); err != nil {
			log.Printf("Scheduler: error auto-submitting attempts for room %s: %v", room.Code, err)
			// Still end the room; attempts can be reconciled by a later tick.
		}
		if _, err := s.rooms.EndRoom(room.ID); err != nil {
			log.Printf("Scheduler: error ending room %s: %v", room.Code, err)
			continue
		}
		log.Printf("Scheduler: ended room %s", room.Code)
	}
}
