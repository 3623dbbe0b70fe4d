package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeCreditReset = "credits:reset_due"

type CreditResetPayload struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewCreditResetTask builds the daily reset task. The task id is derived from
// the UTC day, so several schedulers enqueue it at most once per day.
func NewCreditResetTask(scheduledAt time.Time) (*asynq.Task, error) {
	scheduledAt = scheduledAt.UTC()
	payload, err := json.Marshal(CreditResetPayload{ScheduledAt: scheduledAt})
	if err != nil {
		return nil, fmt.Errorf("marshal credit reset payload: %w", err)
	}
	return asynq.NewTask(
		TypeCreditReset,
		payload,
		asynq.TaskID(TypeCreditReset+":"+scheduledAt.Format("2006-01-02")),
		asynq.MaxRetry(5),
		asynq.Timeout(5*time.Minute),
	), nil
}
