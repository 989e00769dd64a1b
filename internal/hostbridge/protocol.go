package hostbridge

import "encoding/json"

// Frame types.
const (
	frameReq   = "req"
	frameRes   = "res"
	frameEvent = "event"
)

// Methods the daemon calls on the extension.
const (
	MethodTabsQuery       = "tabs.query"
	MethodTabsCreate      = "tabs.create"
	MethodTabsRemove      = "tabs.remove"
	MethodContainersQuery = "containers.query"
)

// EventAlarmFired is sent by extensions that forward their own periodic alarm.
const EventAlarmFired = "alarms.fired"

// wsFrame is a raw protocol frame. The daemon sends req frames and the
// extension answers with res frames carrying the same ID; the extension
// also pushes event frames at any time.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// removeParams is the tabs.remove request.
type removeParams struct {
	TabIDs []int64 `json:"tabIds"`
}
