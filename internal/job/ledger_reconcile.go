package job

import (
	"context"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// LedgerReconcileJob replays the ledger of recently active users and reports
// balances that no longer match their transactions. It never repairs.
type LedgerReconcileJob struct {
	balanceRepo   *repository.BalanceRepository
	creditService *service.CreditService
	stopCh        chan struct{}
	interval      time.Duration
	window        time.Duration
	batchSize     int
	logger        zerolog.Logger
}

func NewLedgerReconcileJob(db *gorm.DB, cfg *config.Config, creditService *service.CreditService) *LedgerReconcileJob {
	interval := cfg.Business.ReconcileInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	window := cfg.Business.ReconcileWindow
	if window <= 0 {
		window = time.Hour
	}
	return &LedgerReconcileJob{
		balanceRepo:   repository.NewBalanceRepository(db),
		creditService: creditService,
		stopCh:        make(chan struct{}),
		interval:      interval,
		window:        window,
		batchSize:     500,
		logger:        log.With().Str("component", "ledger_reconcile").Logger(),
	}
}

func (j *LedgerReconcileJob) Start(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Dur("window", j.window).Msg("started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("context done, exiting")
			return
		case <-j.stopCh:
			j.logger.Info().Msg("stopped")
			return
		case <-ticker.C:
			j.reconcile(ctx, time.Now().Add(-j.window))
		}
	}
}

func (j *LedgerReconcileJob) Stop() {
	close(j.stopCh)
}

// reconcile checks every user whose balance moved since, one page of
// batchSize at a time, and returns the ids whose ledger does not replay to
// the stored balance.
func (j *LedgerReconcileJob) reconcile(ctx context.Context, since time.Time) []string {
	var (
		mismatched []string
		checked    int
		afterID    int64
	)
	for {
		page, err := j.balanceRepo.ListUpdatedSince(ctx, since, afterID, j.batchSize)
		if err != nil {
			j.logger.Error().Err(err).Int64("after_id", afterID).Msg("list active balances failed")
			break
		}
		for _, balance := range page {
			checked++
			if !j.check(ctx, balance.UserID) {
				mismatched = append(mismatched, balance.UserID)
			}
		}
		if len(page) < j.batchSize || ctx.Err() != nil {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if checked > 0 {
		j.logger.Info().Int("checked", checked).Int("mismatched", len(mismatched)).Msg("reconcile finished")
	}
	return mismatched
}

// check reports whether the user's ledger replays cleanly. Replay errors
// are logged and not counted as a mismatch.
func (j *LedgerReconcileJob) check(ctx context.Context, userID string) bool {
	replay, err := j.creditService.ReplayLedger(ctx, userID)
	if err != nil {
		j.logger.Warn().Err(err).Str("user_id", userID).Msg("replay failed")
		return true
	}
	if replay.Consistent {
		return true
	}
	j.logger.Error().
		Str("user_id", userID).
		Int64("stored_balance", replay.StoredBalance).
		Int64("replayed_balance", replay.ReplayedBalance).
		Int64("stored_earned", replay.StoredEarned).
		Int64("replayed_earned", replay.ReplayedEarned).
		Int64("stored_spent", replay.StoredSpent).
		Int64("replayed_spent", replay.ReplayedSpent).
		Int("broken_links", replay.BrokenLinks).
		Msg("ledger mismatch")
	return false
}
