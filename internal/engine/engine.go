// Package engine implements the workflow orchestration core: instance
// lifecycle, the action state machine, escalation targets, bulk actions
// and template materialization.
package engine

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"grcflow/internal/logging"
	"grcflow/internal/notify"
	"grcflow/internal/repository"
)

// SystemActorScheduler is the actor id recorded for engine-initiated
// actions such as timeout escalation.
const SystemActorScheduler = "scheduler"

// Engine drives workflow instances through their steps. All mutating
// operations run inside one store transaction; the engine holds no state
// beyond what is persisted.
type Engine struct {
	store    repository.Store
	tx       repository.TxManager
	notifier notify.Notifier
	logger   *logging.Logger

	// now is swappable in tests
	now func() time.Time

	actionCounter     metric.Int64Counter
	instanceCounter   metric.Int64Counter
	escalationCounter metric.Int64Counter
}

// New creates an Engine on top of a store and transaction manager.
func New(store repository.Store, tx repository.TxManager, notifier notify.Notifier, logger *logging.Logger) *Engine {
	meter := otel.Meter("grcflow/engine")
	actionCounter, _ := meter.Int64Counter("workflow_actions_executed",
		metric.WithDescription("Number of workflow actions executed"))
	instanceCounter, _ := meter.Int64Counter("workflow_instances_started",
		metric.WithDescription("Number of workflow instances started"))
	escalationCounter, _ := meter.Int64Counter("workflow_steps_escalated",
		metric.WithDescription("Number of step escalations performed"))

	return &Engine{
		store:             store,
		tx:                tx,
		notifier:          notifier,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
		actionCounter:     actionCounter,
		instanceCounter:   instanceCounter,
		escalationCounter: escalationCounter,
	}
}

// Store exposes the underlying store for read-only API queries.
func (e *Engine) Store() repository.Store { return e.store }
