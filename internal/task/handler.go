package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

type CreditResetter interface {
	ResetAllDue(ctx context.Context) (int64, error)
}

type Handler struct {
	ledger CreditResetter
}

func NewHandler(ledger CreditResetter) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeCreditReset, h.HandleCreditReset)
}

func (h *Handler) HandleCreditReset(ctx context.Context, t *asynq.Task) error {
	var payload CreditResetPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal credit reset payload: %v: %w", err, asynq.SkipRetry)
	}

	count, err := h.ledger.ResetAllDue(ctx)
	if err != nil {
		return fmt.Errorf("reset due credits: %w", err)
	}

	log.Info().
		Int64("count", count).
		Time("scheduledAt", payload.ScheduledAt).
		Msg("task: due credits reset")
	return nil
}
