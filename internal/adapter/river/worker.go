package river

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

// NotificationWorker processes booking event jobs. Customer messaging is
// handled outside this service; the worker records the notification that
// would be sent.
type NotificationWorker struct {
	river.WorkerDefaults[BookingEventArgs]
}

// Work processes a single booking event job.
func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[BookingEventArgs]) error {
	slog.InfoContext(ctx, "booking notification",
		"event", job.Args.Event,
		"booking_id", job.Args.BookingID,
		"slot_id", job.Args.SlotID,
		"customer_id", job.Args.CustomerID,
		"people", job.Args.People,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)
	return nil
}

// RecountFunc recomputes a slot's occupancy from its active bookings.
type RecountFunc func(ctx context.Context, slotID string) error

// ReconcileWorker repairs slot counters that drifted after a degraded
// cancellation. A failed recount is retried by River.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileSlotArgs]
	recount RecountFunc
}

// Work processes a single reconciliation job.
func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileSlotArgs]) error {
	if err := w.recount(ctx, job.Args.SlotID); err != nil {
		slog.WarnContext(ctx, "slot reconciliation failed",
			"slot_id", job.Args.SlotID, "attempt", job.Attempt, "error", err)
		return fmt.Errorf("recounting slot %s: %w", job.Args.SlotID, err)
	}

	slog.InfoContext(ctx, "slot reconciled",
		"slot_id", job.Args.SlotID,
		"reason", job.Args.Reason,
		"job_id", job.ID,
	)
	return nil
}
