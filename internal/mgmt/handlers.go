package mgmt

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/metrics"
	"github.com/p-blackswan/zentab/internal/requestid"
	"github.com/p-blackswan/zentab/internal/settings"
)

const containersSuggestion = "Enter container IDs manually"

type handlers struct {
	deps   Deps
	logger zerolog.Logger
}

func newHandlers(deps Deps, logger zerolog.Logger) *handlers {
	return &handlers{deps: deps, logger: logger}
}

func (h *handlers) recorder() *metrics.Metrics { return h.deps.Metrics }

// Liveness reports that the process is serving.
func (h *handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness runs the registered health checks.
func (h *handlers) Readiness(c *fiber.Ctx) error {
	if h.deps.Checker == nil {
		return c.JSON(fiber.Map{"ready": true})
	}
	report := h.deps.Checker.Check(c.UserContext())
	status := fiber.StatusOK
	if !report.Ready {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(report)
}

// Command dispatches POST /api/v1/commands.
func (h *handlers) Command(c *fiber.Ctx) error {
	var req CommandRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Request body must be a JSON command")
	}

	ctx := c.UserContext()
	log := requestid.Logger(ctx, h.logger)

	switch req.Action {
	case ActionArchiveNow:
		closed, err := h.deps.Commands.ArchiveNow(ctx)
		if err != nil {
			log.Error().Err(err).Msg("archive now failed")
			h.recorder().RecordCommand(req.Action, "error")
			return c.Status(statusFor(err)).JSON(CommandResponse{Success: false, Error: err.Error()})
		}
		h.recorder().RecordCommand(req.Action, "ok")
		return c.JSON(CommandResponse{Success: true, Closed: &closed})

	case ActionToggleSyncStorage:
		if req.Enabled == nil {
			h.recorder().RecordCommand(req.Action, "rejected")
			return problemResponse(c, fiber.StatusBadRequest,
				"missing_field", "Bad Request", "toggleSyncStorage requires a boolean \"enabled\"")
		}
		if err := h.deps.Commands.ToggleSync(ctx, *req.Enabled); err != nil {
			log.Error().Err(err).Bool("enabled", *req.Enabled).Msg("toggling sync storage failed")
			h.recorder().RecordCommand(req.Action, "error")
			return c.Status(statusFor(err)).JSON(CommandResponse{Success: false, Error: err.Error()})
		}
		h.recorder().RecordCommand(req.Action, "ok")
		return c.JSON(CommandResponse{Success: true})

	default:
		h.recorder().RecordCommand("unknown", "rejected")
		return problemResponse(c, fiber.StatusBadRequest,
			"unknown_action", "Bad Request", "Unknown action "+quote(req.Action))
	}
}

// GetSettings returns the active settings record.
func (h *handlers) GetSettings(c *fiber.Ctx) error {
	s, err := h.deps.Settings.Get(c.UserContext())
	if err != nil {
		return h.storageProblem(c, err)
	}
	return c.JSON(s)
}

// PutSettings replaces the settings record. Omitted fields take their
// defaults, except useSyncStorage which keeps its current value; tier
// changes go through the toggleSyncStorage command.
func (h *handlers) PutSettings(c *fiber.Ctx) error {
	ctx := c.UserContext()
	body := c.Body()

	next, err := settings.Parse(body)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_settings", "Bad Request", err.Error())
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		if _, ok := fields["useSyncStorage"]; !ok {
			current, err := h.deps.Settings.Get(ctx)
			if err != nil {
				return h.storageProblem(c, err)
			}
			next.UseSyncStorage = current.UseSyncStorage
		}
	}

	if err := h.deps.Settings.Put(ctx, next); err != nil {
		return h.storageProblem(c, err)
	}
	log := requestid.Logger(ctx, h.logger)
	log.Info().
		Bool("archive_enabled", next.ArchiveEnabled).
		Float64("archive_after_hours", next.ArchiveAfterHours).
		Int("rules", len(next.WorkspaceRules)).
		Msg("settings updated")
	return c.JSON(next)
}

// ResetSettings writes the default settings through the normal save path,
// which also points the tier selector back at synced storage.
func (h *handlers) ResetSettings(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if err := h.deps.Settings.Reset(ctx); err != nil {
		return h.storageProblem(c, err)
	}
	s, err := h.deps.Settings.Get(ctx)
	if err != nil {
		return h.storageProblem(c, err)
	}
	return c.JSON(s)
}

// ListContainers returns the host's containers. Failure is reported in
// the body so the options page can fall back to manual entry.
func (h *handlers) ListContainers(c *fiber.Ctx) error {
	if h.deps.Containers == nil {
		return c.JSON(ContainersResponse{
			Containers: []host.Container{},
			Error:      "containers are not available",
			Suggestion: containersSuggestion,
		})
	}
	list, err := h.deps.Containers.Containers(c.UserContext())
	if err != nil {
		log := requestid.Logger(c.UserContext(), h.logger)
		log.Warn().Err(err).Msg("listing containers failed")
		return c.JSON(ContainersResponse{
			Containers: []host.Container{},
			Error:      err.Error(),
			Suggestion: containersSuggestion,
		})
	}
	if list == nil {
		list = []host.Container{}
	}
	return c.JSON(ContainersResponse{Containers: list})
}

func (h *handlers) storageProblem(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log := requestid.Logger(c.UserContext(), h.logger)
		log.Error().Err(err).Str("path", c.Path()).Msg("settings storage failed")
	}
	errType := "storage_error"
	if status == fiber.StatusBadRequest {
		errType = "invalid_settings"
	}
	return problemResponse(c, status, errType, statusTitle(status), err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, zerrors.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, zerrors.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, zerrors.ErrQuotaExceeded):
		return fiber.StatusInsufficientStorage
	case errors.Is(err, zerrors.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, zerrors.ErrTimeout):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
