// Package store implements the durable MetadataStore: gorm-backed tables
// for Files and BatchJobs plus the compare-and-set status transitions
// the scheduler and worker rely on.
package store

import (
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
)

// BatchStatus is the tagged state the batch status DAG moves through.
type BatchStatus string

const (
	BatchStatusValidating BatchStatus = "validating"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusFinalizing BatchStatus = "finalizing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusExpired    BatchStatus = "expired"
	BatchStatusCancelling BatchStatus = "cancelling"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// IsTerminal reports whether the status is a DAG sink.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusExpired, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions encodes the status DAG from spec section 3: every
// key maps to the set of statuses that may follow it directly.
var validTransitions = map[BatchStatus]map[BatchStatus]bool{
	BatchStatusValidating: {BatchStatusInProgress: true, BatchStatusFailed: true, BatchStatusCancelling: true, BatchStatusExpired: true},
	BatchStatusInProgress: {BatchStatusFinalizing: true, BatchStatusFailed: true, BatchStatusCancelling: true, BatchStatusExpired: true},
	BatchStatusFinalizing: {BatchStatusCompleted: true, BatchStatusFailed: true, BatchStatusExpired: true},
	BatchStatusCancelling: {BatchStatusCancelled: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to BatchStatus) bool {
	next, ok := validTransitions[from]
	return ok && next[to]
}

// BatchEndpoint is the target endpoint a batch's requests are routed to.
type BatchEndpoint string

const (
	BatchEndpointChatCompletions BatchEndpoint = "/v1/chat/completions"
	BatchEndpointCompletions     BatchEndpoint = "/v1/completions"
	BatchEndpointEmbeddings      BatchEndpoint = "/v1/embeddings"
)

// RequestCounts tracks total/completed/failed monotonically per spec's
// count invariant: completed+failed never exceeds total, and neither
// counter ever decreases.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// File is an immutable uploaded blob's metadata. Only soft-delete ever
// mutates a row after creation.
type File struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Purpose   string `gorm:"type:varchar(64);index;not null" json:"purpose"`
	Filename  string `gorm:"type:varchar(512);not null" json:"filename"`
	Bytes     int64  `gorm:"not null" json:"bytes"`
	Path      string `gorm:"type:text;not null" json:"-"`
	Deleted   bool   `gorm:"default:false;index" json:"deleted"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
}

func (File) TableName() string { return "files" }

// BatchJob is the gorm-mapped row for a batch job. Metadata and request
// counts are stored as JSON text columns and hydrated into the
// RequestCounts/Metadata virtual fields on read, mirroring the JSON-text-column convention used
// for free-form nested data elsewhere in this server.
type BatchJob struct {
	ID            string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Endpoint      BatchEndpoint `gorm:"type:varchar(64);not null" json:"endpoint"`
	InputFileID   string        `gorm:"type:varchar(64);not null;index" json:"input_file_id"`
	OutputFileID  *string       `gorm:"type:varchar(64)" json:"output_file_id,omitempty"`
	ErrorFileID   *string       `gorm:"type:varchar(64)" json:"error_file_id,omitempty"`
	Status        BatchStatus   `gorm:"type:varchar(32);not null;index" json:"status"`

	RequestCountsJSON string `gorm:"type:text;column:request_counts" json:"-"`
	MetadataJSON      string `gorm:"type:text;column:metadata" json:"-"`

	CreatedAt    time.Time  `gorm:"index;not null" json:"created_at"`
	InProgressAt *time.Time `json:"in_progress_at,omitempty"`
	FinalizingAt *time.Time `json:"finalizing_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	ExpiredAt    *time.Time `json:"expired_at,omitempty"`
	CancellingAt *time.Time `json:"cancelling_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`

	// persisted column that neither the store nor the worker reads or
	// writes; resume works from the custom_ids in the result files
	LastSeenCustomID string `gorm:"type:text" json:"-"`

	RequestCounts RequestCounts     `gorm:"-" json:"request_counts"`
	Metadata      map[string]string `gorm:"-" json:"metadata,omitempty"`
}

func (BatchJob) TableName() string { return "batch_jobs" }

func (b *BatchJob) BeforeSave(tx *gorm.DB) error {
	return b.serialize()
}

func (b *BatchJob) AfterFind(tx *gorm.DB) error {
	return b.deserialize()
}

func (b *BatchJob) serialize() error {
	rc, err := sonic.Marshal(b.RequestCounts)
	if err != nil {
		return err
	}
	b.RequestCountsJSON = string(rc)

	if b.Metadata == nil {
		b.MetadataJSON = ""
		return nil
	}
	md, err := sonic.Marshal(b.Metadata)
	if err != nil {
		return err
	}
	b.MetadataJSON = string(md)
	return nil
}

func (b *BatchJob) deserialize() error {
	if b.RequestCountsJSON != "" {
		if err := sonic.Unmarshal([]byte(b.RequestCountsJSON), &b.RequestCounts); err != nil {
			return err
		}
	}
	if b.MetadataJSON != "" {
		if err := sonic.Unmarshal([]byte(b.MetadataJSON), &b.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// WorkerHeartbeat is the liveness record the scheduler's heartbeat
// monitor tracks. It is kept in-memory (see heartbeat.go), not
// persisted, since a dead worker's last DB row would otherwise look
// indistinguishable from a live one between heartbeats.
type WorkerHeartbeat struct {
	LastSeen    time.Time
	LoadedModel string
	Status      string // idle, loading, busy, unloading
}
