package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-billing-api/internal/models"
	"github.com/noah-isme/edu-billing-api/internal/validation"
	appErrors "github.com/noah-isme/edu-billing-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByDocument(ctx context.Context, number, issuer string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateContact(ctx context.Context, student *models.Student) error
	Deactivate(ctx context.Context, id string) error
}

// StudentService handles the student registry.
type StudentService struct {
	repo      studentRepository
	authz     Authorizer
	audit     auditTrail
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, authz Authorizer, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, authz: authz, audit: auditTrail{repo: audit, logger: logger}, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, storeError(err, "", "failed to list students")
	}
	page, size, _ := models.Page(filter.Page, filter.PageSize)
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a student by id.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "student not found", "failed to load student")
	}
	return student, nil
}

// Create registers a new student. The identity document must be unique.
func (s *StudentService) Create(ctx context.Context, actor models.Actor, req models.CreateStudentRequest) (*models.Student, error) {
	if err := authorize(s.authz, actor, models.ActionManageStudents, models.ResourceStudent); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	number := strings.ToUpper(strings.TrimSpace(req.CINumber))
	issuer := strings.ToUpper(strings.TrimSpace(req.CIIssuer))
	if err := validation.DocumentID(number, issuer).Err("invalid identity document"); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByDocument(ctx, number, issuer)
	if err != nil {
		return nil, storeError(err, "", "failed to validate identity document")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a student with this identity document already exists")
	}

	student := &models.Student{
		CINumber:   number,
		CIIssuer:   issuer,
		FirstNames: strings.TrimSpace(req.FirstNames),
		LastNames:  strings.TrimSpace(req.LastNames),
		Email:      req.Email,
		Phone:      req.Phone,
		BirthDate:  datePtr(req.BirthDate),
		Active:     true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, storeError(err, "", "failed to create student")
	}
	s.audit.emit(ctx, actor, models.AuditActionCreate, models.ResourceStudent, student.ID, nil, student)
	return student, nil
}

// UpdateContact changes the email or phone of a student.
func (s *StudentService) UpdateContact(ctx context.Context, actor models.Actor, id string, upd models.StudentUpdate) (*models.Student, error) {
	if err := authorize(s.authz, actor, models.ActionManageStudents, models.ResourceStudent); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(upd); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Empty() {
		return student, nil
	}
	before := *student
	if upd.Email != nil {
		student.Email = upd.Email
	}
	if upd.Phone != nil {
		student.Phone = upd.Phone
	}
	if err := s.repo.UpdateContact(ctx, student); err != nil {
		return nil, storeError(err, "student not found", "failed to update student")
	}
	s.audit.emit(ctx, actor, models.AuditActionUpdate, models.ResourceStudent, id,
		map[string]*string{"email": before.Email, "phone": before.Phone},
		map[string]*string{"email": student.Email, "phone": student.Phone})
	return student, nil
}

// Deactivate marks the student inactive. Existing enrollments are untouched.
func (s *StudentService) Deactivate(ctx context.Context, actor models.Actor, id string) error {
	if err := authorize(s.authz, actor, models.ActionManageStudents, models.ResourceStudent); err != nil {
		return err
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return storeError(err, "student not found", "failed to deactivate student")
	}
	s.audit.emit(ctx, actor, models.AuditActionTransition, models.ResourceStudent, id,
		map[string]bool{"active": true}, map[string]bool{"active": false})
	return nil
}
