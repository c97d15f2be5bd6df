package saga

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/saga"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	sagasStarted        metric.Int64Counter
	sagaOutcomes        metric.Int64Counter
	refundsIssued       metric.Int64Counter
	transfersReconciled metric.Int64Counter
)

func init() {
	var err error
	if sagasStarted, err = meter.Int64Counter("wrap_and_send.sagas_started",
		metric.WithDescription("Sagas that took custody of a deposit")); err != nil {
		otel.Handle(err)
	}
	if sagaOutcomes, err = meter.Int64Counter("wrap_and_send.saga_outcomes",
		metric.WithDescription("Sagas that reached a terminal continuation, by outcome")); err != nil {
		otel.Handle(err)
	}
	if refundsIssued, err = meter.Int64Counter("wrap_and_send.refunds",
		metric.WithDescription("Refund messages issued, by reason")); err != nil {
		otel.Handle(err)
	}
	if transfersReconciled, err = meter.Int64Counter("wrap_and_send.transfers_reconciled",
		metric.WithDescription("In-flight transfers resolved by the transfer module, by kind")); err != nil {
		otel.Handle(err)
	}
}

func recordOutcome(ctx context.Context, outcome string) {
	if sagaOutcomes != nil {
		sagaOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func recordRefund(ctx context.Context, reason string) {
	if refundsIssued != nil {
		refundsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
