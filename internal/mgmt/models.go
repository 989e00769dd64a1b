package mgmt

import "github.com/p-blackswan/zentab/internal/host"

// Command actions accepted by POST /api/v1/commands.
const (
	ActionArchiveNow        = "archiveNow"
	ActionToggleSyncStorage = "toggleSyncStorage"
)

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Action  string `json:"action"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// CommandResponse reports the outcome of a command.
type CommandResponse struct {
	Success bool   `json:"success"`
	Closed  *int   `json:"closed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ContainersResponse lists the browser's isolation containers. When the
// extension cannot provide them the list is empty and Error says why.
type ContainersResponse struct {
	Containers []host.Container `json:"containers"`
	Error      string           `json:"error,omitempty"`
	Suggestion string           `json:"suggestion,omitempty"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}
