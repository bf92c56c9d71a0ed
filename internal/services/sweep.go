package services

import (
	"context"
	"time"

	"github.com/hivedesk/membership-backend/internal/logger"
	"github.com/hivedesk/membership-backend/internal/platform/stripegw"
	"github.com/hivedesk/membership-backend/internal/types"
)

// SweepResult records what one replayed gateway event did.
type SweepResult struct {
	SessionID  string          `json:"session_id"`
	PaymentRef string          `json:"payment_ref"`
	Outcome    DispatchOutcome `json:"outcome"`
	Error      string          `json:"error,omitempty"`
}

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Window           time.Duration `json:"window"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Events           int           `json:"events"`
	Processed        int           `json:"processed"`
	AlreadyProcessed int           `json:"already_processed"`
	Skipped          int           `json:"skipped"`
	Errors           int           `json:"errors"`
	Results          []SweepResult `json:"results"`
}

// SweepService replays recent gateway checkout events through the same
// dispatch path the webhook uses, closing the gap left by dropped or failed
// webhook deliveries. Running it against an already-consistent ledger is a
// no-op by construction.
type SweepService interface {
	Run(ctx context.Context, window time.Duration) (*SweepReport, error)
}

type sweepService struct {
	log     *logger.Logger
	gateway stripegw.Gateway
	payment PaymentService
}

func NewSweepService(log *logger.Logger, gateway stripegw.Gateway, payment PaymentService) SweepService {
	return &sweepService{
		log:     log.With("service", "SweepService"),
		gateway: gateway,
		payment: payment,
	}
}

func (s *sweepService) Run(ctx context.Context, window time.Duration) (*SweepReport, error) {
	report := &SweepReport{
		Window:    window,
		StartedAt: time.Now().UTC(),
	}

	events, err := s.gateway.ListCheckoutEvents(ctx, report.StartedAt.Add(-window))
	if err != nil {
		return nil, err
	}
	report.Events = len(events)

	for _, ev := range events {
		outcome, err := s.payment.Dispatch(ctx, ev, types.SourceSweep)
		result := SweepResult{
			SessionID:  ev.SessionID,
			PaymentRef: ev.PaymentRef,
			Outcome:    outcome,
		}
		switch outcome {
		case OutcomeProcessed:
			report.Processed++
			s.log.Info("Sweep recovered a missed payment",
				"session_id", ev.SessionID, "payment_ref", ev.PaymentRef)
		case OutcomeAlreadyProcessed:
			report.AlreadyProcessed++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeError:
			report.Errors++
			if err != nil {
				result.Error = err.Error()
			}
			s.log.Error("Sweep dispatch failed",
				"session_id", ev.SessionID, "payment_ref", ev.PaymentRef, "error", err)
		}
		report.Results = append(report.Results, result)
	}

	report.FinishedAt = time.Now().UTC()
	s.log.Info("Sweep finished",
		"events", report.Events, "processed", report.Processed,
		"already_processed", report.AlreadyProcessed,
		"skipped", report.Skipped, "errors", report.Errors)
	return report, nil
}
