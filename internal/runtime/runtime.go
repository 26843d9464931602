// Package runtime is the rule runtime. It brackets every inbound
// message and every store change notification in a single store
// transaction, fans inbound partitions out across a worker pool, and
// halts on a fatal invariant breach rather than crashing the process:
// the halt flag is shared by the whole Runtime, so every worker stops
// accepting messages once it trips.
package runtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/postengine/internal/calendar"
	"github.com/web3guy0/postengine/internal/config"
	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/internal/feed"
	"github.com/web3guy0/postengine/internal/rules"
	"github.com/web3guy0/postengine/internal/store"
)

// PartitionConsumer is the subset of feed.Consumer the runtime drives.
type PartitionConsumer interface {
	Run(ctx context.Context) error
	Close() error
}

// Runtime wires the five rules to their triggers: Ingest+BuildBlock
// chained per inbound execution message, Allocate on a Block reaching
// READY_TO_ALLOCATE, Settle on an Allocation being created, Bust on an
// Execution being updated.
type Runtime struct {
	engine store.Engine
	scales config.CurrencyScales
	cal    calendar.BusinessDayCalendar

	mu     sync.Mutex
	halted bool
}

// New builds a Runtime and registers the store notification handlers
// that drive Allocate/Settle/Bust. Partition workers are supplied
// separately to Run, since they need HandleExecution as their feed
// handler and HandleExecution is a method on the constructed Runtime.
func New(engine store.Engine, scales config.CurrencyScales, cal calendar.BusinessDayCalendar) *Runtime {
	rt := &Runtime{engine: engine, scales: scales, cal: cal}

	engine.NotifyCreated(store.TableBlocks, rt.onBlockUpdated)
	engine.NotifyUpdated(store.TableBlocks, rt.onBlockUpdated)
	engine.NotifyCreated(store.TableAllocations, rt.onAllocationCreated)
	engine.NotifyUpdated(store.TableExecutions, rt.onExecutionUpdated)

	return rt
}

// HandleExecution implements the feed.Handler signature, chaining
// Ingest and BuildBlockTrades inside one transaction.
func (rt *Runtime) HandleExecution(ctx context.Context, msg feed.ExecutionMessage) error {
	if rt.isHalted() {
		return errs.Terminal(errHalted)
	}

	in := rules.ExecutionInput{
		ExecID:       msg.ExecID,
		OrderID:      msg.OrderID,
		InstrumentID: msg.InstrumentID,
		Qty:          msg.Qty,
		Price:        msg.Price,
		TradeDate:    msg.TradeDate,
		Venue:        msg.Venue,
	}

	if msg.IsCorrection {
		return rt.engine.WithTx(func(tx store.TxAccessor) error {
			_, err := rules.IngestCorrection(tx, in)
			return rt.classify(err)
		})
	}

	return rt.engine.WithTx(func(tx store.TxAccessor) error {
		ingestResult, err := rules.Ingest(tx, in)
		if err != nil {
			return rt.classify(err)
		}
		if ingestResult.Skip {
			return nil
		}

		_, err = rules.BuildBlockTrades(tx, rt.scales, in)
		return rt.classify(err)
	})
}

// onBlockUpdated fires AllocateBlock after a Block row is created or
// updated; AllocateBlock itself no-ops unless the status is
// READY_TO_ALLOCATE, so firing unconditionally on every Block change is
// safe and keeps the trigger wiring simple.
func (rt *Runtime) onBlockUpdated(_ store.Table, blockID string) {
	if rt.isHalted() {
		return
	}
	err := rt.engine.WithTx(func(tx store.TxAccessor) error {
		return rules.AllocateBlock(tx, blockID)
	})
	rt.logTrigger("AllocateBlock", blockID, err)
}

// onAllocationCreated fires GenerateSettlement once an Allocation
// commits.
func (rt *Runtime) onAllocationCreated(_ store.Table, allocID string) {
	if rt.isHalted() {
		return
	}
	err := rt.engine.WithTx(func(tx store.TxAccessor) error {
		_, err := rules.GenerateSettlement(tx, rt.scales, rt.cal, allocID)
		return err
	})
	rt.logTrigger("GenerateSettlement", allocID, err)
}

// onExecutionUpdated fires HandleBust once an Execution's qty is
// mutated to zero or negative.
func (rt *Runtime) onExecutionUpdated(_ store.Table, execID string) {
	if rt.isHalted() {
		return
	}
	err := rt.engine.WithTx(func(tx store.TxAccessor) error {
		_, err := rules.HandleBust(tx, execID)
		return err
	})
	rt.logTrigger("HandleBust", execID, err)
}

func (rt *Runtime) logTrigger(rule, pk string, err error) {
	if err == nil {
		return
	}
	if errs.IsNotUnique(err) {
		rt.halt(err)
		return
	}
	log.Error().Err(err).Str("rule", rule).Str("pk", pk).Msg("store-triggered rule failed")
}

// classify turns an invariant breach into a worker halt and otherwise
// returns err unchanged, so WithTx's transaction is rolled back and the
// inbound offset is not committed on transient failures.
func (rt *Runtime) classify(err error) error {
	if err == nil {
		return nil
	}
	if errs.IsNotUnique(err) {
		rt.halt(err)
	}
	return err
}

// halt trips the runtime's fatal-invariant-breach flag, stopping
// further store-triggered rules from running.
func (rt *Runtime) halt(cause error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.halted {
		return
	}
	rt.halted = true
	log.Error().Err(cause).Msg("rule runtime halted: invariant breach")
}

func (rt *Runtime) isHalted() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.halted
}

// IsHalted reports whether the runtime has tripped on an invariant
// breach and stopped processing store-triggered rules.
func (rt *Runtime) IsHalted() bool {
	return rt.isHalted()
}

// Run starts every partition worker and blocks until ctx is cancelled
// or one worker returns a non-context error, at which point the whole
// group is cancelled.
func (rt *Runtime) Run(ctx context.Context, workers []PartitionConsumer) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()
	for _, w := range workers {
		_ = w.Close()
	}
	if err == context.Canceled {
		return nil
	}
	return err
}

var errHalted = haltedErr{}

type haltedErr struct{}

func (haltedErr) Error() string { return "rule runtime halted: invariant breach" }
