package models

import "time"

// AuditAction enumerates the recorded operations.
type AuditAction string

const (
	AuditActionCreate     AuditAction = "CREATE"
	AuditActionUpdate     AuditAction = "UPDATE"
	AuditActionTransition AuditAction = "TRANSITION"
	AuditActionPayment    AuditAction = "PAYMENT"
	AuditActionConfirm    AuditAction = "CONFIRM"
	AuditActionVoid       AuditAction = "VOID"
	AuditActionCancel     AuditAction = "CANCEL"
	AuditActionReverse    AuditAction = "REVERSE"
	AuditActionLogin      AuditAction = "LOGIN"
	AuditActionExport     AuditAction = "EXPORT"
)

// AuditLog is a best-effort trail of mutating operations.
type AuditLog struct {
	ID         string      `db:"id" json:"id"`
	ActorID    string      `db:"actor_id" json:"actor_id"`
	Action     AuditAction `db:"action" json:"action"`
	Resource   string      `db:"resource" json:"resource"`
	ResourceID *string     `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  *string     `db:"old_values" json:"old_values,omitempty"`
	NewValues  *string     `db:"new_values" json:"new_values,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}
