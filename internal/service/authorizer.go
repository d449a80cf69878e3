package service

import (
	"github.com/noah-isme/edu-billing-api/internal/models"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
)

// Authorizer decides whether an actor may perform an action on a resource.
type Authorizer interface {
	Can(actor models.Actor, action models.Action, resource string) bool
}

// RolePolicy grants actions by role.
type RolePolicy struct {
	grants map[models.UserRole]map[models.Action]bool
}

// NewRolePolicy builds the default policy of the institute.
func NewRolePolicy() *RolePolicy {
	all := []models.Action{
		models.ActionManageStudents, models.ActionManagePrograms, models.ActionChangeProgram, models.ActionManagePlans,
		models.ActionCreateEnrollment, models.ActionUpdateEnrollment, models.ActionCancelEnrollment,
		models.ActionRegisterPayment, models.ActionConfirmPayment, models.ActionVoidPayment,
		models.ActionManageCash, models.ActionViewReports, models.ActionIssueInvoice, models.ActionVoidInvoice,
	}
	policy := &RolePolicy{grants: map[models.UserRole]map[models.Action]bool{}}
	policy.Grant(models.RoleAdmin, all...)
	policy.Grant(models.RoleCoordinator,
		models.ActionManageStudents, models.ActionManagePrograms, models.ActionChangeProgram, models.ActionManagePlans,
		models.ActionCreateEnrollment, models.ActionUpdateEnrollment, models.ActionCancelEnrollment, models.ActionViewReports)
	policy.Grant(models.RoleCashier,
		models.ActionManageStudents, models.ActionCreateEnrollment, models.ActionRegisterPayment, models.ActionConfirmPayment,
		models.ActionManageCash, models.ActionIssueInvoice)
	policy.Grant(models.RoleAccountant,
		models.ActionConfirmPayment, models.ActionVoidPayment, models.ActionManageCash, models.ActionViewReports,
		models.ActionIssueInvoice, models.ActionVoidInvoice)
	return policy
}

// Grant adds actions to a role.
func (p *RolePolicy) Grant(role models.UserRole, actions ...models.Action) {
	if p.grants[role] == nil {
		p.grants[role] = map[models.Action]bool{}
	}
	for _, action := range actions {
		p.grants[role][action] = true
	}
}

// Can implements Authorizer. Resources are not distinguished beyond the action.
func (p *RolePolicy) Can(actor models.Actor, action models.Action, _ string) bool {
	if p == nil || actor.ID == "" {
		return false
	}
	return p.grants[actor.Role][action]
}

func authorize(authz Authorizer, actor models.Actor, action models.Action, resource string) error {
	if authz == nil || authz.Can(actor, action, resource) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not authorized to "+string(action))
}
