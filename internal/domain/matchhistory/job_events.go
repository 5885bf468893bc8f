package matchhistory

import (
	"time"

	"github.com/google/uuid"

	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/events"
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/player"
)

// Event types relevant to fetch jobs.
const (
	EventTypeFetchJobRequested    events.EventType = "FetchJobRequested"
	EventTypeFetchUnitRequested   events.EventType = "FetchUnitRequested"
	EventTypeAggregationRequested events.EventType = "AggregationRequested"
)

// FetchJobRequestedEvent starts the dispatch step for one player. Published
// by the trigger service after the lease has been acquired; the lease travels
// implicitly via the player's derived lock key.
type FetchJobRequestedEvent struct {
	JobID     uuid.UUID  `json:"job_id"`
	Player    player.Ref `json:"player"`
	Requested time.Time  `json:"requested_at"`
}

// NewFetchJobRequestedEvent creates a new fetch job requested event.
func NewFetchJobRequestedEvent(player player.Ref) FetchJobRequestedEvent {
	return FetchJobRequestedEvent{
		JobID:     uuid.New(),
		Player:    player,
		Requested: time.Now(),
	}
}

func (e FetchJobRequestedEvent) EventType() events.EventType { return EventTypeFetchJobRequested }
func (e FetchJobRequestedEvent) OccurredAt() time.Time       { return e.Requested }

// FetchUnitRequestedEvent is one fan-out unit: fetch a single match for a
// player. Delivered at least once; the executor must be idempotent for the
// partial-result append and rely on the atomic increment for progress.
type FetchUnitRequestedEvent struct {
	JobID     uuid.UUID  `json:"job_id"`
	MatchID   string     `json:"match_id"`
	PUUID     string     `json:"puuid"`
	Player    player.Ref `json:"player"`
	Requested time.Time  `json:"requested_at"`
}

// NewFetchUnitRequestedEvent creates a fetch unit event for a single match.
func NewFetchUnitRequestedEvent(jobID uuid.UUID, matchID, puuid string, player player.Ref) FetchUnitRequestedEvent {
	return FetchUnitRequestedEvent{
		JobID:     jobID,
		MatchID:   matchID,
		PUUID:     puuid,
		Player:    player,
		Requested: time.Now(),
	}
}

func (e FetchUnitRequestedEvent) EventType() events.EventType { return EventTypeFetchUnitRequested }
func (e FetchUnitRequestedEvent) OccurredAt() time.Time       { return e.Requested }

// AggregationRequestedEvent triggers the fan-in step. Published exactly once
// per job by the unit whose increment brought processed == total.
type AggregationRequestedEvent struct {
	JobID     uuid.UUID  `json:"job_id"`
	Player    player.Ref `json:"player"`
	Requested time.Time  `json:"requested_at"`
}

// NewAggregationRequestedEvent creates an aggregation trigger event.
func NewAggregationRequestedEvent(jobID uuid.UUID, player player.Ref) AggregationRequestedEvent {
	return AggregationRequestedEvent{
		JobID:     jobID,
		Player:    player,
		Requested: time.Now(),
	}
}

func (e AggregationRequestedEvent) EventType() events.EventType { return EventTypeAggregationRequested }
func (e AggregationRequestedEvent) OccurredAt() time.Time       { return e.Requested }
