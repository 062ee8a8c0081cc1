package schedules

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/mixforge/mixforge/internal/interfaces"
	"github.com/mixforge/mixforge/internal/models"
)

// Disburser moves money for one payout. Implementations wrap whatever
// payment gateway is in use.
type Disburser interface {
	Disburse(ctx context.Context, payout *models.Payout) error
}

// DisburserFunc adapts a function to the Disburser interface
type DisburserFunc func(ctx context.Context, payout *models.Payout) error

func (f DisburserFunc) Disburse(ctx context.Context, payout *models.Payout) error {
	return f(ctx, payout)
}

// PayoutProcessor disburses payouts whose hold period has elapsed. Each
// payout is marked disbursed before the gateway call, so a crash or an
// overlapping run can never pay the same payout twice; a failed gateway
// call flips the row to failed for operator review instead.
type PayoutProcessor struct {
	payouts   interfaces.PayoutStore
	disburser Disburser
	notifier  interfaces.Notifier
	logger    arbor.ILogger
}

// NewPayoutProcessor creates the payout processor
func NewPayoutProcessor(payouts interfaces.PayoutStore, disburser Disburser, notifier interfaces.Notifier, logger arbor.ILogger) *PayoutProcessor {
	return &PayoutProcessor{
		payouts:   payouts,
		disburser: disburser,
		notifier:  notifier,
		logger:    logger,
	}
}

// Name implements Processor
func (p *PayoutProcessor) Name() string {
	return "payouts"
}

// ProcessDue disburses every payout past its hold-release time. Items are
// isolated: one failure is recorded and the scan continues.
func (p *PayoutProcessor) ProcessDue(ctx context.Context) (*DueReport, error) {
	due, err := p.payouts.DuePayouts(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	report := &DueReport{}
	for _, payout := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processOne(ctx, payout); err != nil {
			report.recordError(payout.ID, err.Error())
			continue
		}
		report.Processed++
	}
	return report, nil
}

func (p *PayoutProcessor) processOne(ctx context.Context, payout *models.Payout) error {
	// Claim the row first: once marked it leaves the due set and no later
	// run touches it again
	if err := p.payouts.MarkDisbursed(ctx, payout.ID); err != nil {
		return err
	}

	if err := p.disburser.Disburse(ctx, payout); err != nil {
		p.logger.Error().
			Err(err).
			Str("payout_id", payout.ID).
			Str("producer_id", payout.ProducerID).
			Int64("amount_cents", payout.AmountCents).
			Msg("Payout disbursement failed")
		if markErr := p.payouts.MarkPayoutFailed(ctx, payout.ID, err.Error()); markErr != nil {
			p.logger.Error().Err(markErr).Str("payout_id", payout.ID).Msg("Failed to mark payout failed")
		}
		return err
	}

	p.logger.Info().
		Str("payout_id", payout.ID).
		Str("producer_id", payout.ProducerID).
		Int64("amount_cents", payout.AmountCents).
		Msg("Payout disbursed")

	p.notifier.Notify(payout.ProducerID, "payout.disbursed", map[string]interface{}{
		"payout_id":    payout.ID,
		"amount_cents": payout.AmountCents,
	})
	return nil
}
