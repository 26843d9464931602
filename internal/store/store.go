// Package store is a transactional projection over five tables
// (Instrument, Order, Execution, BlockTrade, Allocation) with
// primary-key upsert, predicate queries, and post-commit change
// notifications. It dispatches to Postgres or sqlite depending on
// the configured DSN.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/types"
)

// Table names the five projected tables, used as notification routing
// keys. The outbox and dead-letter bookkeeping tables have no Table
// constant and raise no notifications.
type Table string

const (
	TableInstruments Table = "instruments"
	TableOrders Table = "orders"
	TableExecutions Table = "executions"
	TableBlocks Table = "block_trades"
	TableAllocations Table = "allocations"
)

// Predicate is a conjunctive equality filter: each key is a gorm column
// name, ANDed together. It is intentionally limited to equality — every
// rule in only ever needs conjunctive equality matches.
type Predicate map[string]any

// ChangeHandler is invoked after a rule transaction durably commits a
// row change to Table, exactly once per committed change.
type ChangeHandler func(table Table, pk string)

// Store is the gorm-backed projection store.
type Store struct {
	db *gorm.DB

	mu sync.RWMutex
	onCreate map[Table][]ChangeHandler
	onUpdate map[Table][]ChangeHandler
}

// New opens the store, dispatching to Postgres or sqlite the way the
// teacher's internal/database/database.go does based on the DSN prefix,
// and auto-migrates the five tables.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info().Msg("store connected (postgres)")
	} else {
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", dsn).Msg("store connected (sqlite)")
	}

	if err := db.AutoMigrate(
		&types.Instrument{},
		&types.Order{},
		&types.Execution{},
		&types.BlockTrade{},
		&types.Allocation{},
		&outboxEntry{},
		&deadLetter{},
	); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &Store{
		db: db,
		onCreate: map[Table][]ChangeHandler{},
		onUpdate: map[Table][]ChangeHandler{},
	}, nil
}

// NotifyCreated registers h to fire after a row is inserted into table.
func (s *Store) NotifyCreated(table Table, h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate[table] = append(s.onCreate[table], h)
}

// NotifyUpdated registers h to fire after a row is updated in table.
func (s *Store) NotifyUpdated(table Table, h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate[table] = append(s.onUpdate[table], h)
}

func (s *Store) fireCreated(table Table, pk string) {
	s.mu.RLock()
	handlers := append([]ChangeHandler{}, s.onCreate[table]...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(table, pk)
	}
}

func (s *Store) fireUpdated(table Table, pk string) {
	s.mu.RLock()
	handlers := append([]ChangeHandler{}, s.onUpdate[table]...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(table, pk)
	}
}

// TxAccessor is the store surface the five rules are written against.
// Both the gorm-backed Tx and the in-memory fake Tx (used in tests)
// implement it, so rule logic never depends on gorm directly.
type TxAccessor interface {
	GetInstrument(instrumentID string) (types.Instrument, error)

	GetOrder(orderID string) (types.Order, error)
	SingleOrder(pred Predicate) (types.Order, error)
	AllOrders(pred Predicate) ([]types.Order, error)

	GetExecution(execID string) (types.Execution, error)
	AllExecutions(pred Predicate) ([]types.Execution, error)
	UpsertExecution(e types.Execution) error

	GetBlock(blockID string) (types.BlockTrade, error)
	SingleBlock(pred Predicate) (types.BlockTrade, error)
	UpsertBlock(b types.BlockTrade) error

	GetAllocation(allocID string) (types.Allocation, error)
	AllAllocations(pred Predicate) ([]types.Allocation, error)
	UpsertAllocation(a types.Allocation) error

	EnqueueOutbox(kind OutboxKind, topic, key string, payload []byte) error
	DeadLetter(kind, refID, reason string) error
}

// Engine is the store surface the rule runtime depends on: open a
// transaction, register change notifications, and drain the outbox.
// Both *Store (gorm) and the in-memory fake implement it.
type Engine interface {
	WithTx(fn func(tx TxAccessor) error) error
	NotifyCreated(table Table, h ChangeHandler)
	NotifyUpdated(table Table, h ChangeHandler)
	PendingOutbox(limit int) ([]OutboxEntry, error)
	MarkOutboxDone(id string) error
	BumpOutboxAttempts(id string) error
	EnqueueOutboxDirect(kind OutboxKind, topic, key string, payload []byte) error
	DeadLetterDirect(kind, refID, reason string) error
}

// Tx is a handle bound to one open gorm transaction. The rule runtime
// opens a Tx per inbound message and commits it atomically with the
// inbound offset advancement and outbox writes.
type Tx struct {
	store *Store
	gdb *gorm.DB

	pendingCreate []pendingNotify
	pendingUpdate []pendingNotify
}

type pendingNotify struct {
	table Table
	pk string
}

// WithTx opens a transaction, runs fn, and on success fires the queued
// change notifications after the commit durably succeeds. Repeatable-read
// isolation is requested through sql.TxOptions on every transaction.
func (s *Store) WithTx(fn func(tx TxAccessor) error) error {
	var queued *Tx

	err := s.db.Transaction(func(gdb *gorm.DB) error {
		tx := &Tx{store: s, gdb: gdb}
		if err := fn(tx); err != nil {
			return err
		}
		queued = tx
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return err
	}

	for _, n := range queued.pendingCreate {
		s.fireCreated(n.table, n.pk)
	}
	for _, n := range queued.pendingUpdate {
		s.fireUpdated(n.table, n.pk)
	}
	return nil
}

// ---- generic predicate helpers ----

func single[T any](gdb *gorm.DB, pred Predicate) (T, error) {
	var zero T
	var rows []T
	q := gdb
	if len(pred) > 0 {
		q = q.Where(map[string]any(pred))
	}
	if err := q.Find(&rows).Error; err != nil {
		return zero, errs.Transient(err)
	}
	switch len(rows) {
	case 0:
		return zero, errs.NotFound("no row matched predicate %v", pred)
	case 1:
		return rows[0], nil
	default:
		return zero, errs.NotUnique("predicate %v matched %d rows", pred, len(rows))
	}
}

func all[T any](gdb *gorm.DB, pred Predicate) ([]T, error) {
	var rows []T
	q := gdb
	if len(pred) > 0 {
		q = q.Where(map[string]any(pred))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errs.Transient(err)
	}
	return rows, nil
}

func get[T any](gdb *gorm.DB, pkColumn, pk string) (T, error) {
	var zero T
	var row T
	err := gdb.Where(fmt.Sprintf("%s = ?", pkColumn), pk).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return zero, errs.NotFound("%s=%s", pkColumn, pk)
		}
		return zero, errs.Transient(err)
	}
	return row, nil
}

// ---- Instrument ----

func (tx *Tx) GetInstrument(instrumentID string) (types.Instrument, error) {
	return get[types.Instrument](tx.gdb, "instrument_id", instrumentID)
}

// ---- Order ----

func (tx *Tx) GetOrder(orderID string) (types.Order, error) {
	return get[types.Order](tx.gdb, "order_id", orderID)
}

func (tx *Tx) SingleOrder(pred Predicate) (types.Order, error) {
	return single[types.Order](tx.gdb, pred)
}

func (tx *Tx) AllOrders(pred Predicate) ([]types.Order, error) {
	return all[types.Order](tx.gdb, pred)
}

// ---- Execution ----

func (tx *Tx) GetExecution(execID string) (types.Execution, error) {
	return get[types.Execution](tx.gdb, "exec_id", execID)
}

func (tx *Tx) AllExecutions(pred Predicate) ([]types.Execution, error) {
	return all[types.Execution](tx.gdb, pred)
}

// UpsertExecution inserts or replaces an Execution keyed by ExecID and
// queues the appropriate created/updated notification.
func (tx *Tx) UpsertExecution(e types.Execution) error {
	existed, err := rowExists[types.Execution](tx.gdb, "exec_id", e.ExecID)
	if err != nil {
		return err
	}
	if err := tx.gdb.Save(&e).Error; err != nil {
		return errs.Transient(err)
	}
	if existed {
		tx.pendingUpdate = append(tx.pendingUpdate, pendingNotify{TableExecutions, e.ExecID})
	} else {
		tx.pendingCreate = append(tx.pendingCreate, pendingNotify{TableExecutions, e.ExecID})
	}
	return nil
}

// ---- BlockTrade ----

func (tx *Tx) GetBlock(blockID string) (types.BlockTrade, error) {
	return get[types.BlockTrade](tx.gdb, "block_id", blockID)
}

func (tx *Tx) SingleBlock(pred Predicate) (types.BlockTrade, error) {
	return single[types.BlockTrade](tx.gdb, pred)
}

// UpsertBlock inserts or replaces a BlockTrade keyed by BlockID.
func (tx *Tx) UpsertBlock(b types.BlockTrade) error {
	existed, err := rowExists[types.BlockTrade](tx.gdb, "block_id", b.BlockID)
	if err != nil {
		return err
	}
	if err := tx.gdb.Save(&b).Error; err != nil {
		return errs.Transient(err)
	}
	if existed {
		tx.pendingUpdate = append(tx.pendingUpdate, pendingNotify{TableBlocks, b.BlockID})
	} else {
		tx.pendingCreate = append(tx.pendingCreate, pendingNotify{TableBlocks, b.BlockID})
	}
	return nil
}

// ---- Allocation ----

func (tx *Tx) GetAllocation(allocID string) (types.Allocation, error) {
	return get[types.Allocation](tx.gdb, "alloc_id", allocID)
}

func (tx *Tx) AllAllocations(pred Predicate) ([]types.Allocation, error) {
	return all[types.Allocation](tx.gdb, pred)
}

// UpsertAllocation inserts or replaces an Allocation keyed by AllocID.
// Because AllocID is deterministic, a replayed AllocateBlock run is an
// idempotent upsert.
func (tx *Tx) UpsertAllocation(a types.Allocation) error {
	existed, err := rowExists[types.Allocation](tx.gdb, "alloc_id", a.AllocID)
	if err != nil {
		return err
	}
	if err := tx.gdb.Save(&a).Error; err != nil {
		return errs.Transient(err)
	}
	if existed {
		tx.pendingUpdate = append(tx.pendingUpdate, pendingNotify{TableAllocations, a.AllocID})
	} else {
		tx.pendingCreate = append(tx.pendingCreate, pendingNotify{TableAllocations, a.AllocID})
	}
	return nil
}

// ---- helpers ----

func rowExists[T any](gdb *gorm.DB, pkColumn, pk string) (bool, error) {
	var count int64
	var row T
	if err := gdb.Model(&row).Where(fmt.Sprintf("%s = ?", pkColumn), pk).Count(&count).Error; err != nil {
		return false, errs.Transient(err)
	}
	return count > 0, nil
}
