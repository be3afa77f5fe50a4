// Package relationship maintains the per-(user, character) affinity scores
// and the coarse stage derived from them.
package relationship

import (
	"context"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/baltabekpro/aisimulator-sub001/internal/ai"
	"github.com/baltabekpro/aisimulator-sub001/internal/database"
)

// maxTurnDelta bounds how far a single turn may move any one dimension.
const maxTurnDelta = 0.2

// Per-dimension gift multipliers; a gift of effect E adds E times these.
const (
	giftAlphaGeneral    = 0.01
	giftAlphaFriendship = 0.007
	giftAlphaRomance    = 0.003
	giftAlphaTrust      = 0.005
)

// Relationship stages, ordered from distant to close.
const (
	StageStrangers     = "strangers"
	StageAcquaintances = "acquaintances"
	StageFriends       = "friends"
	StageClose         = "close"
)

// StageOf derives the coarse stage from the four affinities.
func StageOf(general, friendship, romance, trust float64) string {
	switch {
	case friendship >= 0.8 && romance >= 0.8:
		return StageClose
	case general >= 0.6:
		return StageFriends
	case general < 0.2:
		return StageStrangers
	default:
		return StageAcquaintances
	}
}

// clip bounds a per-turn delta to the allowed range.
func clip(delta float64) float64 {
	return math.Max(-maxTurnDelta, math.Min(maxTurnDelta, delta))
}

// saturate adds delta to value and bounds the result to [0, 1].
func saturate(value, delta float64) float64 {
	return math.Max(0, math.Min(1, value+delta))
}

// ApplyTurnDelta applies a model-proposed adjustment to the state in place,
// clipping each dimension and recomputing the stage.
func ApplyTurnDelta(state *database.RelationshipState, delta ai.RelationshipDelta) {
	state.General = saturate(state.General, clip(delta.General))
	state.Friendship = saturate(state.Friendship, clip(delta.Friendship))
	state.Romance = saturate(state.Romance, clip(delta.Romance))
	state.Trust = saturate(state.Trust, clip(delta.Trust))
	state.Stage = StageOf(state.General, state.Friendship, state.Romance, state.Trust)
}

// GiftDelta computes the affinity adjustment for a gift of the given effect.
func GiftDelta(effect int) ai.RelationshipDelta {
	e := float64(effect)
	return ai.RelationshipDelta{
		General:    e * giftAlphaGeneral,
		Friendship: e * giftAlphaFriendship,
		Romance:    e * giftAlphaRomance,
		Trust:      e * giftAlphaTrust,
	}
}

// Tracker performs the locked read-modify-write cycle against the store.
// Updates are best-effort from the caller's point of view; a failed update
// never fails the surrounding turn.
type Tracker struct {
	store database.Store
	log   *slog.Logger
}

func NewTracker(store database.Store, log *slog.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log.With("component", "relationship_tracker"),
	}
}

// ApplyTurn folds a turn-derived delta into the stored state under the pair
// lock and returns the resulting state.
func (t *Tracker) ApplyTurn(ctx context.Context, userID, characterID uuid.UUID, delta ai.RelationshipDelta) (*database.RelationshipState, error) {
	unlock := t.store.LockPair(characterID, userID)
	defer unlock()

	state, err := t.store.GetRelationship(ctx, userID, characterID)
	if err != nil {
		return nil, err
	}
	previous := state.Stage
	ApplyTurnDelta(state, delta)
	if err := t.store.SaveRelationship(ctx, state); err != nil {
		return nil, err
	}
	if state.Stage != previous {
		t.log.InfoContext(ctx, "Relationship stage changed",
			"user_id", userID,
			"character_id", characterID,
			"from", previous,
			"to", state.Stage)
	}
	return state, nil
}

// ApplyGift folds a gift of the given effect into the stored state and
// returns the applied delta alongside the resulting state.
func (t *Tracker) ApplyGift(ctx context.Context, userID, characterID uuid.UUID, effect int) (*database.RelationshipState, ai.RelationshipDelta, error) {
	delta := GiftDelta(effect)
	state, err := t.ApplyTurn(ctx, userID, characterID, delta)
	return state, delta, err
}
