package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const runTimeout = time.Minute

// CreditResetter is satisfied by service.CreditLedger.
type CreditResetter interface {
	ResetAllDue(ctx context.Context) (int64, error)
}

// CreditResetJob refills due daily-reset pools on a fixed interval.
type CreditResetJob struct {
	ledger   CreditResetter
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewCreditResetJob(ledger CreditResetter, interval time.Duration) *CreditResetJob {
	return &CreditResetJob{
		ledger:   ledger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs one pass immediately, then one per interval until Stop.
func (j *CreditResetJob) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		j.run()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.run()
			case <-j.stop:
				return
			}
		}
	}()

	log.Info().Dur("interval", j.interval).Msg("credit reset job started")
}

func (j *CreditResetJob) Stop() {
	close(j.stop)
	j.wg.Wait()
	log.Info().Msg("credit reset job stopped")
}

func (j *CreditResetJob) run() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	count, err := j.ledger.ResetAllDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("credit reset job: failed to reset due credits")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("credit reset job: refilled records")
	}
}
