package models

import "time"

// Student is identified by a national identity document (number + issuing office).
// Records are never edited once created beyond contact data and soft deactivation.
type Student struct {
	ID         string     `db:"id" json:"id"`
	CINumber   string     `db:"ci_number" json:"ci_number"`
	CIIssuer   string     `db:"ci_issuer" json:"ci_issuer,omitempty"`
	FirstNames string     `db:"first_names" json:"first_names"`
	LastNames  string     `db:"last_names" json:"last_names"`
	Email      *string    `db:"email" json:"email,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Active     bool       `db:"active" json:"active"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts.
func (s Student) FullName() string {
	return s.FirstNames + " " + s.LastNames
}

// CreateStudentRequest registers a new student.
type CreateStudentRequest struct {
	CINumber   string     `json:"ci_number" validate:"required"`
	CIIssuer   string     `json:"ci_issuer"`
	FirstNames string     `json:"first_names" validate:"required,max=100"`
	LastNames  string     `json:"last_names" validate:"required,max=100"`
	Email      *string    `json:"email" validate:"omitempty,email,max=254"`
	Phone      *string    `json:"phone" validate:"omitempty,min=7,max=15"`
	BirthDate  *time.Time `json:"birth_date"`
}

// StudentUpdate lists the only fields that may change after registration.
type StudentUpdate struct {
	Email *string `json:"email" validate:"omitempty,email,max=254"`
	Phone *string `json:"phone" validate:"omitempty,min=7,max=15"`
}

// Empty reports whether the command changes nothing.
func (u StudentUpdate) Empty() bool {
	return u.Email == nil && u.Phone == nil
}

// StudentFilter captures list filters.
type StudentFilter struct {
	Search   string
	Active   *bool
	Page     int
	PageSize int
}
