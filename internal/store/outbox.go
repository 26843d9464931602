package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/web3guy0/postengine/internal/errs"
)

// OutboxKind distinguishes the two sinks an outbox entry may drain to:
// a TradeEvents publish or a SettlementGateway HTTP call.
type OutboxKind string

const (
	OutboxKindPublish OutboxKind = "publish"
	OutboxKindGateway OutboxKind = "gateway"
)

// OutboxStatus tracks drain progress.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxDone OutboxStatus = "DONE"
)

// outboxEntry is a durable record of an outbound effect written at
// transaction commit time and drained by a separate dispatcher.
// Entries are never deleted on failure — only marked done after ack —
// so the dispatcher can resume undrained effects after a restart.
type outboxEntry struct {
	ID string `gorm:"column:id;primaryKey"`
	Kind OutboxKind `gorm:"column:kind;index"`
	Topic string `gorm:"column:topic"`
	Key string `gorm:"column:key;index"` // event id or Idempotency-Key
	Payload []byte `gorm:"column:payload"`
	Status OutboxStatus `gorm:"column:status;index"`
	Attempts int `gorm:"column:attempts"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (outboxEntry) TableName() string { return "outbox_entries" }

// OutboxEntry is the public view returned to the dispatcher.
type OutboxEntry struct {
	ID string
	Kind OutboxKind
	Topic string
	Key string
	Payload []byte
	Attempts int
}

// deadLetter records a message the core could not process, under the
// dead-letter policy shared by validation, missing-reference and
// terminal-gateway failures.
type deadLetter struct {
	ID string `gorm:"column:id;primaryKey"`
	Kind string `gorm:"column:kind;index"` // "execution", "settlement", ...
	RefID string `gorm:"column:ref_id;index"`
	Reason string `gorm:"column:reason"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (deadLetter) TableName() string { return "dead_letters" }

// DeadLetter is the public view of a recorded dead letter, for callers
// and tests that need to confirm one was written.
type DeadLetter struct {
	ID string
	Kind string
	RefID string
	Reason string
}

// EnqueueOutbox writes an outbound effect intent within the rule
// transaction, so it commits atomically with the store mutations that
// produced it.
func (tx *Tx) EnqueueOutbox(kind OutboxKind, topic, key string, payload []byte) error {
	entry := outboxEntry{
		ID: uuid.NewString(),
		Kind: kind,
		Topic: topic,
		Key: key,
		Payload: payload,
		Status: OutboxPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := tx.gdb.Create(&entry).Error; err != nil {
		return errs.Transient(err)
	}
	return nil
}

// DeadLetter records a rejected message within the rule transaction.
func (tx *Tx) DeadLetter(kind, refID, reason string) error {
	dl := deadLetter{
		ID: uuid.NewString(),
		Kind: kind,
		RefID: refID,
		Reason: reason,
		CreatedAt: time.Now(),
	}
	if err := tx.gdb.Create(&dl).Error; err != nil {
		return errs.Transient(err)
	}
	return nil
}

// PendingOutbox returns undrained entries in creation order, for the
// dispatcher and for startup reconciliation.
func (s *Store) PendingOutbox(limit int) ([]OutboxEntry, error) {
	var rows []outboxEntry
	q := s.db.Where("status = ?", OutboxPending).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errs.Transient(err)
	}
	out := make([]OutboxEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, OutboxEntry{ID: r.ID, Kind: r.Kind, Topic: r.Topic, Key: r.Key, Payload: r.Payload, Attempts: r.Attempts})
	}
	return out, nil
}

// EnqueueOutboxDirect writes an outbound effect intent outside any rule
// transaction. The dispatcher uses this to enqueue SettlementSent.v1
// once a gateway POST has actually succeeded — an event
// GenerateSettlement cannot enqueue itself, since it runs before the
// gateway call and has no way to know it will succeed.
func (s *Store) EnqueueOutboxDirect(kind OutboxKind, topic, key string, payload []byte) error {
	entry := outboxEntry{
		ID: uuid.NewString(),
		Kind: kind,
		Topic: topic,
		Key: key,
		Payload: payload,
		Status: OutboxPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		return errs.Transient(err)
	}
	return nil
}

// DeadLetterDirect records a rejected outbound effect outside any rule
// transaction. The dispatcher uses this for a terminal gateway
// response, since the rule that enqueued the gateway entry has already
// committed and cannot know the eventual HTTP outcome.
func (s *Store) DeadLetterDirect(kind, refID, reason string) error {
	dl := deadLetter{
		ID: uuid.NewString(),
		Kind: kind,
		RefID: refID,
		Reason: reason,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&dl).Error; err != nil {
		return errs.Transient(err)
	}
	return nil
}

// MarkOutboxDone marks an entry done after broker/HTTP ack.
func (s *Store) MarkOutboxDone(id string) error {
	res := s.db.Model(&outboxEntry{}).Where("id = ?", id).Updates(map[string]any{
		"status": OutboxDone,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return errs.Transient(res.Error)
	}
	return nil
}

// BumpOutboxAttempts records a failed drain attempt, for retry backoff
// bookkeeping in the dispatcher.
func (s *Store) BumpOutboxAttempts(id string) error {
	res := s.db.Model(&outboxEntry{}).Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if res.Error != nil {
		return errs.Transient(res.Error)
	}
	return nil
}
