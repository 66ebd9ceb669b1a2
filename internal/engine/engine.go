// Package engine is the facade the API surface talks to. It sequences
// classify, quote and settle, and enforces last-request-wins: when the user
// edits the input or amount while a slow quote is in flight, the stale
// result is discarded instead of overwriting the fresh one.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/Fantasim/railpay/internal/classify"
	"github.com/Fantasim/railpay/internal/config"
	"github.com/Fantasim/railpay/internal/feed"
	"github.com/Fantasim/railpay/internal/models"
	"github.com/Fantasim/railpay/internal/quote"
	"github.com/Fantasim/railpay/internal/settle"
)

// Engine wires the payment pipeline together behind one surface.
type Engine struct {
	classifier *classify.Classifier
	quoter     *quote.Quoter
	executor   *settle.Executor
	feed       *feed.Engine

	// token orders decode/quote requests; only the newest one may publish
	// its result.
	token atomic.Uint64
}

// New assembles the engine facade.
func New(classifier *classify.Classifier, quoter *quote.Quoter, executor *settle.Executor, feedEngine *feed.Engine) *Engine {
	return &Engine{
		classifier: classifier,
		quoter:     quoter,
		executor:   executor,
		feed:       feedEngine,
	}
}

// Decode classifies a raw payment string into a normalized target.
func (e *Engine) Decode(raw string) (*models.PaymentTarget, error) {
	e.token.Add(1)
	return e.classifier.Classify(raw)
}

// Quote computes the cost of paying target with amountSats. A quote started
// before a newer Decode or Quote call returns ErrRequestSuperseded instead
// of its stale result.
func (e *Engine) Quote(ctx context.Context, target *models.PaymentTarget, amountSats int64) (*models.QuoteResult, error) {
	token := e.token.Add(1)

	e.executor.MarkQuoting()
	q, err := e.quoter.Quote(ctx, target, amountSats)
	if err != nil {
		return nil, err
	}

	if e.token.Load() != token {
		return nil, config.ErrRequestSuperseded
	}

	e.executor.MarkReady()
	return q, nil
}

// Send executes a previously quoted payment.
func (e *Engine) Send(ctx context.Context, target *models.PaymentTarget, amountSats int64, q *models.QuoteResult, memo string) (*models.LedgerEntry, error) {
	entry, err := e.executor.ConfirmAndSend(ctx, target, amountSats, q, memo)
	if err != nil {
		return nil, err
	}
	e.quoter.InvalidateDestination(q.Destination)
	return entry, nil
}

// Feed returns one page of the merged activity feed.
func (e *Engine) Feed(limit int, includeHousekeeping bool) (*models.FeedPage, error) {
	return e.feed.Page(limit, includeHousekeeping)
}
