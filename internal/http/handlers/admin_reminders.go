package handlers

import (
	"context"
	"net/http"

	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

type sweeper interface {
	Sweep(ctx context.Context) (reminders.SweepResult, error)
}

// AdminRemindersHandler triggers the reminder sweep on demand.
type AdminRemindersHandler struct {
	sweeper sweeper
	logger  *logging.Logger
}

func NewAdminRemindersHandler(s sweeper, logger *logging.Logger) *AdminRemindersHandler {
	if s == nil {
		panic("handlers: sweeper cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRemindersHandler{sweeper: s, logger: logger}
}

// Sweep handles POST /admin/reminders/sweep.
func (h *AdminRemindersHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("manual reminder sweep failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	h.logger.Info("manual reminder sweep", "sent", res.Sent, "completed", res.Completed)
	writeJSON(w, http.StatusOK, res)
}
