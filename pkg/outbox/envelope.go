package outbox

import (
	"encoding/json"
	"time"

	"github.com/anshulkhatri/cartful-backend/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	ActorType enums.ActorType `json:"actorType"`
	ActorID   string          `json:"actorId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
