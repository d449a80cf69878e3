package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditTrail writes best-effort audit entries. Failures are logged and never reach the
// caller.
type auditTrail struct {
	repo   auditLogger
	logger *zap.Logger
}

func (a auditTrail) emit(ctx context.Context, actor models.Actor, action models.AuditAction, resource, resourceID string, oldValues, newValues interface{}) {
	if a.repo == nil {
		return
	}
	entry := &models.AuditLog{
		ActorID:    actor.ID,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		OldValues:  marshalAudit(oldValues),
		NewValues:  marshalAudit(newValues),
	}
	if err := a.repo.CreateAuditLog(ctx, entry); err != nil && a.logger != nil {
		a.logger.Warn("failed to record audit log", zap.String("resource", resource), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func marshalAudit(v interface{}) *string {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}
