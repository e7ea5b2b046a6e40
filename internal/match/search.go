package match

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/studybuddy/match-app/internal/compat"
	"github.com/studybuddy/match-app/internal/profile"
	"github.com/studybuddy/match-app/internal/queue"
	"github.com/studybuddy/match-app/internal/room"
)

// candidate is one scored pairing option.
type candidate struct {
	userID string
	score  int
	attrs  *profile.Attributes
}

// tryGreedy runs one greedy pass: score every idle, non-blocked user and
// claim the best eligible one. Transient store errors abandon the pass (the
// poll loop retries); a nil return means no room was formed this cycle.
func (c *Coordinator) tryGreedy(ctx context.Context, me *profile.Attributes) *room.Room {
	others, err := c.deps.Queue.ListIdleOthers(ctx, c.userID)
	if err != nil {
		log.Printf("[match] list idle: %v", err)
		return nil
	}
	if len(others) == 0 {
		return nil
	}

	blocked, err := c.deps.Rejects.BlockedSet(ctx, c.userID)
	if err != nil {
		log.Printf("[match] blocked set for %s: %v", c.userID, err)
		return nil
	}

	candidates := c.rankCandidates(ctx, me, others, blocked)

	for _, cand := range candidates {
		// Validate the candidate is still idle; they may have been claimed
		// earlier in this cycle or by another client.
		entry, err := c.deps.Queue.Entry(ctx, cand.userID)
		if err != nil || entry == nil || entry.Status != queue.StatusIdle {
			continue
		}

		r, created, err := c.deps.Rooms.Create(ctx, c.userID, cand.userID, me.Timeslots, cand.attrs.Timeslots)
		if errors.Is(err, room.ErrClaimed) {
			// The candidate (or we) got claimed by another pairing this
			// cycle; try the next candidate.
			continue
		}
		if err != nil {
			// Includes the not-readable-yet race window; next cycle adopts.
			log.Printf("[match] create room %s+%s: %v", c.userID, cand.userID, err)
			continue
		}

		if err := c.deps.Queue.MarkMatched(ctx, cand.userID, r.ID); err != nil {
			log.Printf("[match] mark %s matched: %v", cand.userID, err)
		}

		if created {
			// Wake the partner's poll loop.
			if err := c.deps.NATS.PublishRoomCreated(cand.userID, []byte(`{"event":"room_created"}`)); err != nil {
				log.Printf("[match] publish room.created to %s: %v", cand.userID, err)
			}
		}

		// created=false means the candidate's own attempt won the pair
		// claim; the resulting room still names us, so adopt it either way.
		c.adopt(ctx, r)
		return r
	}

	return nil
}

// rankCandidates fetches attributes for the idle pool and returns the
// eligible candidates ordered best-first.
func (c *Coordinator) rankCandidates(ctx context.Context, me *profile.Attributes, others []string, blocked map[string]bool) []candidate {
	attrsByID := make(map[string]*profile.Attributes, len(others))
	for _, id := range others {
		if blocked[id] {
			continue
		}
		attrs, err := c.deps.Profiles.Get(ctx, id)
		if err != nil {
			log.Printf("[match] profile for candidate %s: %v", id, err)
			continue
		}
		// attrs may be nil (no profile row); Score's sentinel filters it.
		attrsByID[id] = attrs
	}
	return rankEligible(me, attrsByID)
}

// rankEligible scores every fetched candidate, keeps those clearing the
// eligibility threshold, and orders them best-first. Ties break
// deterministically by user ID so identical inputs always produce the same
// pick.
func rankEligible(me *profile.Attributes, attrsByID map[string]*profile.Attributes) []candidate {
	var candidates []candidate
	for id, attrs := range attrsByID {
		score := compat.Score(me, attrs)
		if !compat.Eligible(score) {
			continue
		}
		candidates = append(candidates, candidate{userID: id, score: score, attrs: attrs})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].userID < candidates[j].userID
	})
	return candidates
}
