package models

// Actor identifies who performs an operation. Every mutating operation receives
// it explicitly.
type Actor struct {
	ID    string
	Role  UserRole
	Email string
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "00000000-0000-0000-0000-000000000000", Role: RoleAdmin, Email: "system"}

// Action names a guarded operation.
type Action string

const (
	ActionManageStudents   Action = "students.manage"
	ActionManagePrograms   Action = "programs.manage"
	ActionChangeProgram    Action = "programs.state"
	ActionManagePlans      Action = "plans.manage"
	ActionCreateEnrollment Action = "enrollments.create"
	ActionUpdateEnrollment Action = "enrollments.update"
	ActionCancelEnrollment Action = "enrollments.cancel"
	ActionRegisterPayment  Action = "payments.register"
	ActionConfirmPayment   Action = "payments.confirm"
	ActionVoidPayment      Action = "payments.void"
	ActionManageCash       Action = "cash.manage"
	ActionViewReports      Action = "reports.view"
	ActionIssueInvoice     Action = "invoices.issue"
	ActionVoidInvoice      Action = "invoices.void"
)

// Resource names used in authorization checks and audit entries.
const (
	ResourceStudent      = "student"
	ResourceProgram      = "program"
	ResourcePaymentPlan  = "payment_plan"
	ResourceEnrollment   = "enrollment"
	ResourcePayment      = "payment"
	ResourceCashMovement = "cash_movement"
	ResourceReport       = "report"
	ResourceInvoice      = "invoice"
)
