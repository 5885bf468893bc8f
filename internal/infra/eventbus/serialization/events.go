package serialization

import (
	"github.com/Furkan-rgb/loltimeanalysis/internal/domain/matchhistory"
)

// All match-history event types are registered at package load so any process
// importing the bus can both publish and consume them.
func init() {
	RegisterJSONEvent[matchhistory.FetchJobRequestedEvent](matchhistory.EventTypeFetchJobRequested)
	RegisterJSONEvent[matchhistory.FetchUnitRequestedEvent](matchhistory.EventTypeFetchUnitRequested)
	RegisterJSONEvent[matchhistory.AggregationRequestedEvent](matchhistory.EventTypeAggregationRequested)
}
