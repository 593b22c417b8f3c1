package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"gorm.io/gorm"
)

// Notary outbox dispatch statuses for NotarizationRecord.PublishStatus.
// Keep these as strings (DB values).
const (
	NotaryPublishStatusPending    = "PENDING"
	NotaryPublishStatusProcessing = "PROCESSING"
	NotaryPublishStatusSent       = "SENT"
	NotaryPublishStatusFailed     = "FAILED"
	NotaryPublishStatusDead       = "DEAD"
)

// Notarization event types.
const (
	NotaryEventBatchCreated = "BATCH_CREATED"
	NotaryEventTransfer     = "CUSTODY_TRANSFER"
	NotaryEventSale         = "SALE"
	NotaryEventRecall       = "RECALL"
	NotaryEventShipment     = "SHIPMENT"
)

// NotarizationRecord is a transactional-outbox row. Custody operations insert
// one inside the same transaction as the ledger write; the notary dispatcher
// publishes it to Pub/Sub after commit and stamps the message id back as the
// external ledger reference.
type NotarizationRecord struct {
	ID            int       `gorm:"primary_key;index:idx_notary_dispatch,priority:3" json:"id"`
	BatchBarcode  string    `gorm:"size:64;not null;index" json:"batch_barcode"`
	EventType     string    `gorm:"size:30;not null" json:"event_type"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `gorm:"size:30" json:"reference_type"`
	Payload       []byte    `gorm:"type:blob" json:"payload"`
	RecordedAt    time.Time `gorm:"index;not null" json:"recorded_at"`

	// Dispatch metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_notary_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_notary_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToNotarizationMessage(record NotarizationRecord) config.NotarizationMessage {
	return config.NotarizationMessage{
		ID:            record.ID,
		BatchBarcode:  record.BatchBarcode,
		EventType:     record.EventType,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		Payload:       record.Payload,
		RecordedAt:    record.RecordedAt,
		CorrelationId: record.CorrelationId,
	}
}

// EnqueueNotarization inserts an outbox row inside the caller's transaction.
// No-op when notarization is disabled, so custody operations never depend on
// the external ledger being configured.
func EnqueueNotarization(tx *gorm.DB, ctx context.Context, batchBarcode, eventType string, referenceId int, referenceType string, payload any) error {
	if !config.NotarizationEnabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	record := NotarizationRecord{
		BatchBarcode:  batchBarcode,
		EventType:     eventType,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		Payload:       body,
		RecordedAt:    time.Now().UTC(),
		PublishStatus: NotaryPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.WithContext(ctx).Create(&record).Error
}
