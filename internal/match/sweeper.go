package match

import (
	"context"
	"log"
	"time"

	"github.com/studybuddy/match-app/internal/messaging"
	"github.com/studybuddy/match-app/internal/metrics"
	"github.com/studybuddy/match-app/internal/queue"
	"github.com/studybuddy/match-app/internal/room"
	"github.com/studybuddy/match-app/internal/session"
)

// StartSweeper runs the daemon's background maintenance loop: expired rooms
// are torn down globally (clients purge only their own), sessions whose
// room expiry passed are finalized, and the queue/session gauges are
// refreshed. Blocks until ctx is cancelled.
func StartSweeper(ctx context.Context, interval time.Duration, rooms *room.Store, q *queue.Manager, sessions *session.Store, nats *messaging.Client) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] stopped")
			return
		case <-ticker.C:
			sweepExpiredRooms(ctx, rooms, sessions, nats)
			if n, err := q.PruneStale(ctx); err != nil {
				log.Printf("[sweeper] prune stale queue entries: %v", err)
			} else if n > 0 {
				log.Printf("[sweeper] pruned %d stale queue entries", n)
			}
			refreshGauges(ctx, rooms, q, sessions)
		}
	}
}

// sweepExpiredRooms removes rooms whose expiry passed. A room that reached
// a session gets its session finalized and the room subject notified; an
// unverified room is silently deleted and each participant's next poll or
// reconcile observes the disappearance.
func sweepExpiredRooms(ctx context.Context, rooms *room.Store, sessions *session.Store, nats *messaging.Client) {
	ids, err := rooms.ExpiredRooms(ctx)
	if err != nil {
		log.Printf("[sweeper] list expired rooms: %v", err)
		return
	}

	removed := 0
	for _, id := range ids {
		r, err := rooms.Get(ctx, id)
		if err != nil {
			// Hash already gone; drop the index entry via Delete's no-op path.
			rooms.Delete(ctx, id)
			continue
		}

		if r.SessionID != "" {
			ended, err := sessions.Finalize(ctx, r.SessionID)
			if err != nil {
				log.Printf("[sweeper] finalize session %s: %v", r.SessionID, err)
				continue
			}
			if ended {
				if err := nats.PublishSessionEnded(id, []byte(`{"event":"ended"}`)); err != nil {
					log.Printf("[sweeper] publish session.ended for %s: %v", id, err)
				}
			}
		}

		if err := rooms.Delete(ctx, id); err != nil {
			log.Printf("[sweeper] delete room %s: %v", id, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("[sweeper] removed %d expired rooms", removed)
	}
}

func refreshGauges(ctx context.Context, rooms *room.Store, q *queue.Manager, sessions *session.Store) {
	if size, err := q.Size(ctx); err == nil {
		metrics.MatchQueueSize.Set(float64(size))
	}
	if count, err := rooms.CountRooms(ctx); err == nil {
		metrics.OpenRooms.Set(float64(count))
	}
	if active, err := sessions.CountActive(ctx); err == nil {
		metrics.ActiveSessions.Set(float64(active))
	}
}
