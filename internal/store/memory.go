package store

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/web3guy0/postengine/internal/errs"
	"github.com/web3guy0/postengine/types"
)

// MemoryStore is an in-memory fake implementing Engine, used by rule and
// runtime tests in place of the gorm-backed Store.
type MemoryStore struct {
	mu sync.Mutex

	instruments map[string]types.Instrument
	orders map[string]types.Order
	executions map[string]types.Execution
	blocks map[string]types.BlockTrade
	allocations map[string]types.Allocation
	outbox []*OutboxEntry
	deadLetters []deadLetter

	onCreate map[Table][]ChangeHandler
	onUpdate map[Table][]ChangeHandler
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: map[string]types.Instrument{},
		orders: map[string]types.Order{},
		executions: map[string]types.Execution{},
		blocks: map[string]types.BlockTrade{},
		allocations: map[string]types.Allocation{},
		onCreate: map[Table][]ChangeHandler{},
		onUpdate: map[Table][]ChangeHandler{},
	}
}

// SeedInstrument and SeedOrder let tests populate the read-only external
// reference data.
func (m *MemoryStore) SeedInstrument(i types.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instruments[i.InstrumentID] = i
}

func (m *MemoryStore) SeedOrder(o types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
}

func (m *MemoryStore) NotifyCreated(table Table, h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCreate[table] = append(m.onCreate[table], h)
}

func (m *MemoryStore) NotifyUpdated(table Table, h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate[table] = append(m.onUpdate[table], h)
}

// WithTx runs fn against a memoryTx snapshotting nothing (the fake has no
// real isolation) and fires queued notifications on success, mirroring
// Store.WithTx's commit-then-notify ordering.
func (m *MemoryStore) WithTx(fn func(tx TxAccessor) error) error {
	tx := &memoryTx{m: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, n := range tx.pendingCreate {
		for _, h := range m.onCreate[n.table] {
			h(n.table, n.pk)
		}
	}
	for _, n := range tx.pendingUpdate {
		for _, h := range m.onUpdate[n.table] {
			h(n.table, n.pk)
		}
	}
	return nil
}

func (m *MemoryStore) PendingOutbox(limit int) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, e := range m.outbox {
		out = append(out, *e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkOutboxDone(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.outbox {
		if e.ID == id {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) BumpOutboxAttempts(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.outbox {
		if e.ID == id {
			e.Attempts++
			return nil
		}
	}
	return nil
}

// EnqueueOutboxDirect mirrors Store.EnqueueOutboxDirect for tests driving
// the dispatcher against the fake.
func (m *MemoryStore) EnqueueOutboxDirect(kind OutboxKind, topic, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, &OutboxEntry{
		ID: uuid.NewString(), Kind: kind, Topic: topic, Key: key, Payload: payload,
	})
	return nil
}

// DeadLetterDirect mirrors Store.DeadLetterDirect for tests driving the
// dispatcher against the fake.
func (m *MemoryStore) DeadLetterDirect(kind, refID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, deadLetter{ID: uuid.NewString(), Kind: kind, RefID: refID, Reason: reason})
	return nil
}

// DeadLetters returns the recorded dead letters, for test assertions.
func (m *MemoryStore) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetter, 0, len(m.deadLetters))
	for _, dl := range m.deadLetters {
		out = append(out, DeadLetter{ID: dl.ID, Kind: dl.Kind, RefID: dl.RefID, Reason: dl.Reason})
	}
	return out
}

// memoryTx is the TxAccessor implementation backing MemoryStore.WithTx.
type memoryTx struct {
	m *MemoryStore

	pendingCreate []pendingNotify
	pendingUpdate []pendingNotify
}

func (tx *memoryTx) GetInstrument(instrumentID string) (types.Instrument, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	i, ok := tx.m.instruments[instrumentID]
	if !ok {
		return types.Instrument{}, errs.NotFound("instrument %s", instrumentID)
	}
	return i, nil
}

func (tx *memoryTx) GetOrder(orderID string) (types.Order, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	o, ok := tx.m.orders[orderID]
	if !ok {
		return types.Order{}, errs.NotFound("order %s", orderID)
	}
	return o, nil
}

func (tx *memoryTx) SingleOrder(pred Predicate) (types.Order, error) {
	matches, err := tx.AllOrders(pred)
	if err != nil {
		return types.Order{}, err
	}
	switch len(matches) {
	case 0:
		return types.Order{}, errs.NotFound("no order matched predicate %v", pred)
	case 1:
		return matches[0], nil
	default:
		return types.Order{}, errs.NotUnique("predicate %v matched %d orders", pred, len(matches))
	}
}

func (tx *memoryTx) AllOrders(pred Predicate) ([]types.Order, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	var out []types.Order
	for _, o := range tx.m.orders {
		if matchOrder(o, pred) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetExecution(execID string) (types.Execution, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	e, ok := tx.m.executions[execID]
	if !ok {
		return types.Execution{}, errs.NotFound("execution %s", execID)
	}
	return e, nil
}

func (tx *memoryTx) AllExecutions(pred Predicate) ([]types.Execution, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	var out []types.Execution
	for _, e := range tx.m.executions {
		if matchExecution(e, pred) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (tx *memoryTx) UpsertExecution(e types.Execution) error {
	tx.m.mu.Lock()
	_, existed := tx.m.executions[e.ExecID]
	tx.m.executions[e.ExecID] = e
	tx.m.mu.Unlock()
	if existed {
		tx.pendingUpdate = append(tx.pendingUpdate, pendingNotify{TableExecutions, e.ExecID})
	} else {
		tx.pendingCreate = append(tx.pendingCreate, pendingNotify{TableExecutions, e.ExecID})
	}
	return nil
}

func (tx *memoryTx) GetBlock(blockID string) (types.BlockTrade, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	b, ok := tx.m.blocks[blockID]
	if !ok {
		return types.BlockTrade{}, errs.NotFound("block %s", blockID)
	}
	return b, nil
}

func (tx *memoryTx) SingleBlock(pred Predicate) (types.BlockTrade, error) {
	tx.m.mu.Lock()
	var matches []types.BlockTrade
	for _, b := range tx.m.blocks {
		if matchBlock(b, pred) {
			matches = append(matches, b)
		}
	}
	tx.m.mu.Unlock()

	switch len(matches) {
	case 0:
		return types.BlockTrade{}, errs.NotFound("no block matched predicate %v", pred)
	case 1:
		return matches[0], nil
	default:
		return types.BlockTrade{}, errs.NotUnique("predicate %v matched %d blocks", pred, len(matches))
	}
}

func (tx *memoryTx) UpsertBlock(b types.BlockTrade) error {
	tx.m.mu.Lock()
	_, existed := tx.m.blocks[b.BlockID]
	tx.m.blocks[b.BlockID] = b
	tx.m.mu.Unlock()
	if existed {
		tx.pendingUpdate = append(tx.pendingUpdate, pendingNotify{TableBlocks, b.BlockID})
	} else {
		tx.pendingCreate = append(tx.pendingCreate, pendingNotify{TableBlocks, b.BlockID})
	}
	return nil
}

func (tx *memoryTx) GetAllocation(allocID string) (types.Allocation, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	a, ok := tx.m.allocations[allocID]
	if !ok {
		return types.Allocation{}, errs.NotFound("allocation %s", allocID)
	}
	return a, nil
}

func (tx *memoryTx) AllAllocations(pred Predicate) ([]types.Allocation, error) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	var out []types.Allocation
	for _, a := range tx.m.allocations {
		if matchAllocation(a, pred) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tx *memoryTx) UpsertAllocation(a types.Allocation) error {
	tx.m.mu.Lock()
	_, existed := tx.m.allocations[a.AllocID]
	tx.m.allocations[a.AllocID] = a
	tx.m.mu.Unlock()
	if existed {
		tx.pendingUpdate = append(tx.pendingUpdate, pendingNotify{TableAllocations, a.AllocID})
	} else {
		tx.pendingCreate = append(tx.pendingCreate, pendingNotify{TableAllocations, a.AllocID})
	}
	return nil
}

func (tx *memoryTx) EnqueueOutbox(kind OutboxKind, topic, key string, payload []byte) error {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	tx.m.outbox = append(tx.m.outbox, &OutboxEntry{
		ID: uuid.NewString(), Kind: kind, Topic: topic, Key: key, Payload: payload,
	})
	return nil
}

func (tx *memoryTx) DeadLetter(kind, refID, reason string) error {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	tx.m.deadLetters = append(tx.m.deadLetters, deadLetter{ID: uuid.NewString(), Kind: kind, RefID: refID, Reason: reason})
	return nil
}

// ---- predicate matching (mirrors the gorm Where(map) semantics) ----

func matchOrder(o types.Order, pred Predicate) bool {
	for k, v := range pred {
		switch k {
		case "order_id":
			if o.OrderID != v {
				return false
			}
		case "account_id":
			if o.AccountID != v {
				return false
			}
		case "instrument_id":
			if o.InstrumentID != v {
				return false
			}
		case "side":
			if string(o.Side) != toStr(v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchExecution(e types.Execution, pred Predicate) bool {
	for k, v := range pred {
		switch k {
		case "exec_id":
			if e.ExecID != v {
				return false
			}
		case "order_id":
			if e.OrderID != v {
				return false
			}
		case "instrument_id":
			if e.InstrumentID != v {
				return false
			}
		case "trade_date":
			if e.TradeDate != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchBlock(b types.BlockTrade, pred Predicate) bool {
	for k, v := range pred {
		switch k {
		case "block_id":
			if b.BlockID != v {
				return false
			}
		case "instrument_id":
			if b.InstrumentID != v {
				return false
			}
		case "side":
			if string(b.Side) != toStr(v) {
				return false
			}
		case "trade_date":
			if b.TradeDate != v {
				return false
			}
		case "status":
			if string(b.Status) != toStr(v) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func matchAllocation(a types.Allocation, pred Predicate) bool {
	for k, v := range pred {
		switch k {
		case "alloc_id":
			if a.AllocID != v {
				return false
			}
		case "block_id":
			if a.BlockID != v {
				return false
			}
		case "account_id":
			if a.AccountID != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func toStr(v any) string {
	return fmt.Sprintf("%v", v)
}
