package stream

import (
	"encoding/json"

	"polyflow/models"
)

// EventKind discriminates the tagged union delivered on the client's event
// channel.
type EventKind int

const (
	// KindStatus reports a connection lifecycle change or a non-fatal
	// handler error (e.g. an unparseable frame).
	KindStatus EventKind = iota
	// KindUpdate carries one normalized price update.
	KindUpdate
	// KindBook carries a full order-book snapshot from the feed.
	KindBook
)

// Event is one item on the stream client's event channel. Exactly one of
// Update/Book is meaningful depending on Kind; Status is always the
// connection status at emission time.
type Event struct {
	Kind   EventKind
	Status models.ConnStatus
	Err    error
	Update models.StreamUpdate
	Book   *models.OrderbookState
}

// subscribeFrame is the initial full-subscription message sent on open.
type subscribeFrame struct {
	Type                 string   `json:"type"`
	AssetsIDs            []string `json:"assets_ids"`
	CustomFeatureEnabled bool     `json:"custom_feature_enabled"`
}

// opFrame is an incremental subscribe/unsubscribe on a live connection.
type opFrame struct {
	Type      string   `json:"type"`
	Action    string   `json:"action"`
	AssetsIDs []string `json:"assets_ids"`
}

// pingFrame is the application-level heartbeat the server expects echoed
// back with the same id. The id is kept raw so numeric and string encodings
// round-trip untouched.
type pingFrame struct {
	Type string          `json:"type"`
	ID   json.RawMessage `json:"id,omitempty"`
}
