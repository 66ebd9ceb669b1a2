package settle

import (
	"context"
	"log/slog"

	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/rails"
)

// pollFinality resolves a pending swap-mediated entry by asking the rail
// for its status at a fixed interval. The loop is bounded: if the external
// party never finalizes within the window, the entry is marked failed so
// the wallet is not stuck pending forever.
func (e *Executor) pollFinality(client rails.Client, entry models.LedgerEntry) {
	defer e.background.Done()

	for attempt := 1; attempt <= config.FinalityPollMaxAttempts; attempt++ {
		e.sleep(config.FinalityPollInterval)

		ctx, cancel := context.WithTimeout(context.Background(), config.QuoteCallTimeout)
		status, err := client.PollStatus(ctx, entry.ID)
		cancel()
		if err != nil {
			slog.Debug("finality poll failed",
				"rail", entry.Rail,
				"nativeId", entry.ID,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		switch status {
		case models.StatusCompleted:
			e.resolveEntry(entry, models.StatusCompleted)
			e.setState(StateSettled)
			return
		case models.StatusFailed:
			e.resolveEntry(entry, models.StatusFailed)
			e.setState(StateFailed)
			return
		}
	}

	slog.Warn("external finality window exhausted",
		"rail", entry.Rail,
		"nativeId", entry.ID,
		"attempts", config.FinalityPollMaxAttempts,
		"error", config.ErrExternalFinalityTimeout,
	)
	e.resolveEntry(entry, models.StatusFailed)
	e.setState(StateFailed)
}

func (e *Executor) resolveEntry(entry models.LedgerEntry, status models.EntryStatus) {
	if err := e.store.UpdateEntryStatus(entry.Rail, entry.ID, status); err != nil {
		slog.Error("failed to resolve pending entry",
			"rail", entry.Rail,
			"nativeId", entry.ID,
			"status", status,
			"error", err,
		)
		return
	}
	e.onChange()
	slog.Info("pending settlement resolved",
		"rail", entry.Rail,
		"nativeId", entry.ID,
		"status", status,
	)
}

// ReconcilePending re-arms finality polling for entries left pending by a
// previous process run.
func (e *Executor) ReconcilePending() error {
	pending, err := e.store.ListPending()
	if err != nil {
		return err
	}
	for _, entry := range pending {
		client, ok := e.clients[entry.Rail]
		if !ok {
			continue
		}
		e.background.Add(1)
		go e.pollFinality(client, entry)
	}
	if len(pending) > 0 {
		slog.Info("re-armed finality polling", "entries", len(pending))
	}
	return nil
}
