package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/middleware"
	"github.com/noah-isme/edu-billing-api/internal/models"
)

// Routes bundles the handlers and guards mounted under the API prefix.
type Routes struct {
	Auth         *AuthHandler
	Students     *StudentHandler
	Programs     *ProgramHandler
	PaymentPlans *PaymentPlanHandler
	Enrollments  *EnrollmentHandler
	Payments     *PaymentHandler
	Cash         *CashHandler
	Reports      *ReportHandler
	Invoices     *InvoiceHandler

	Tokens middleware.TokenValidator
	Policy middleware.Authorizer
	Audit  middleware.AuditWriter
	Logger *zap.Logger
}

// Register mounts every API route on group.
func (r Routes) Register(group *gin.RouterGroup) {
	can := func(action models.Action, resource string) gin.HandlerFunc {
		return middleware.RequireAction(r.Policy, action, resource)
	}

	group.POST("/auth/login", r.Auth.Login)

	secured := group.Group("")
	secured.Use(middleware.JWT(r.Tokens))
	secured.GET("/auth/me", r.Auth.Me)

	students := secured.Group("/students")
	students.GET("", r.Students.List)
	students.GET("/:id", r.Students.Get)
	students.POST("", can(models.ActionManageStudents, models.ResourceStudent), r.Students.Create)
	students.PATCH("/:id", can(models.ActionManageStudents, models.ResourceStudent), r.Students.Update)
	students.POST("/:id/deactivate", can(models.ActionManageStudents, models.ResourceStudent), r.Students.Deactivate)

	programs := secured.Group("/programs")
	programs.GET("", r.Programs.List)
	programs.GET("/:id", r.Programs.Get)
	programs.GET("/:id/cost", r.Programs.Cost)
	programs.GET("/:id/statistics", can(models.ActionViewReports, models.ResourceReport), r.Programs.Statistics)
	programs.POST("", can(models.ActionManagePrograms, models.ResourceProgram), r.Programs.Create)
	programs.PATCH("/:id", can(models.ActionManagePrograms, models.ResourceProgram), r.Programs.Update)
	programs.POST("/:id/start", can(models.ActionChangeProgram, models.ResourceProgram), r.Programs.Start)
	programs.POST("/:id/conclude", can(models.ActionChangeProgram, models.ResourceProgram), r.Programs.Conclude)
	programs.POST("/:id/cancel", can(models.ActionChangeProgram, models.ResourceProgram), r.Programs.Cancel)
	programs.POST("/:id/promotion", can(models.ActionManagePrograms, models.ResourceProgram), r.Programs.ActivatePromotion)
	programs.POST("/:id/promotion/end", can(models.ActionManagePrograms, models.ResourceProgram), r.Programs.DeactivatePromotion)
	programs.GET("/:id/plans", r.PaymentPlans.ListByProgram)
	programs.POST("/:id/plans", can(models.ActionManagePlans, models.ResourcePaymentPlan), r.PaymentPlans.Create)
	programs.POST("/:id/plans/simulate", r.PaymentPlans.Simulate)
	programs.POST("/:id/plans/recommend", r.PaymentPlans.Recommend)

	plans := secured.Group("/payment-plans")
	plans.GET("/:id", r.PaymentPlans.Get)
	plans.GET("/:id/schedule", r.PaymentPlans.Schedule)
	plans.PATCH("/:id", can(models.ActionManagePlans, models.ResourcePaymentPlan), r.PaymentPlans.Update)
	plans.POST("/:id/deactivate", can(models.ActionManagePlans, models.ResourcePaymentPlan), r.PaymentPlans.Deactivate)

	enrollments := secured.Group("/enrollments")
	enrollments.GET("", r.Enrollments.List)
	enrollments.GET("/:id", r.Enrollments.Get)
	enrollments.GET("/:id/installments", r.Enrollments.Installments)
	enrollments.POST("", can(models.ActionCreateEnrollment, models.ResourceEnrollment), r.Enrollments.Create)
	enrollments.POST("/:id/payments", can(models.ActionRegisterPayment, models.ResourcePayment), r.Enrollments.RegisterPayment)
	enrollments.POST("/:id/cancel", can(models.ActionCancelEnrollment, models.ResourceEnrollment), r.Enrollments.Cancel)
	enrollments.POST("/:id/transition", can(models.ActionUpdateEnrollment, models.ResourceEnrollment), r.Enrollments.Transition)

	payments := secured.Group("/payments")
	payments.GET("", r.Payments.List)
	payments.GET("/:id", r.Payments.Get)
	payments.POST("", can(models.ActionRegisterPayment, models.ResourcePayment), r.Payments.Record)
	payments.POST("/generic-income", can(models.ActionRegisterPayment, models.ResourcePayment), r.Payments.GenericIncome)
	payments.POST("/:id/confirm", can(models.ActionConfirmPayment, models.ResourcePayment), r.Payments.Confirm)
	payments.POST("/:id/void", can(models.ActionVoidPayment, models.ResourcePayment), r.Payments.Void)

	cash := secured.Group("/cash", can(models.ActionManageCash, models.ResourceCashMovement))
	cash.GET("/movements", r.Cash.Movements)
	cash.GET("/balance", r.Cash.Balance)
	cash.GET("/summary", r.Cash.Summary)
	cash.GET("/daily", r.Cash.Daily)
	cash.POST("/movements/:id/reverse", r.Cash.Reverse)
	cash.POST("/expenses", r.Cash.Expense)

	invoices := secured.Group("/invoices")
	invoices.GET("", r.Invoices.List)
	invoices.GET("/totals", r.Invoices.Totals)
	invoices.GET("/summary", can(models.ActionViewReports, models.ResourceReport), r.Invoices.Summary)
	invoices.GET("/:id", r.Invoices.Get)
	invoices.POST("", can(models.ActionIssueInvoice, models.ResourceInvoice), r.Invoices.Issue)
	invoices.POST("/:id/void", can(models.ActionVoidInvoice, models.ResourceInvoice), r.Invoices.Void)

	reports := secured.Group("/reports", can(models.ActionViewReports, models.ResourceReport))
	reports.GET("/summary", r.Reports.Summary)
	reports.GET("/export", middleware.Audit(r.Audit, r.Logger, models.AuditActionExport, models.ResourceReport), r.Reports.Export)
}
