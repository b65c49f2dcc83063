package models

import "time"

// RequestStatus is the primary request state. Once a request leaves
// PENDING the primary status is terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// DocumentState tracks the document exchange for an approved request.
// It is empty while the primary status is PENDING or REJECTED.
type DocumentState string

const (
	DocumentStateAwaitingStudent   DocumentState = "AWAITING_STUDENT_UPLOAD"
	DocumentStateAwaitingProfessor DocumentState = "AWAITING_PROFESSOR_REVIEW"
	DocumentStateCompleted         DocumentState = "COMPLETED"
)

// Request is a student's supervision request against a session.
type Request struct {
	ID                string        `db:"id" json:"id"`
	StudentID         string        `db:"student_id" json:"student_id"`
	ProfessorID       string        `db:"professor_id" json:"professor_id"`
	SessionID         string        `db:"session_id" json:"session_id"`
	Status            RequestStatus `db:"status" json:"status"`
	DocumentState     DocumentState `db:"document_state" json:"document_state,omitempty"`
	ThesisTitle       string        `db:"thesis_title" json:"thesis_title"`
	ThesisDescription string        `db:"thesis_description" json:"thesis_description"`
	Reason            *string       `db:"reason" json:"reason,omitempty"`
	StudentFilePath   *string       `db:"student_file_path" json:"student_file_path,omitempty"`
	ProfessorFilePath *string       `db:"professor_file_path" json:"professor_file_path,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// RequestDetail joins a request with participant and session context.
type RequestDetail struct {
	Request
	StudentName   string `db:"student_name" json:"student_name"`
	ProfessorName string `db:"professor_name" json:"professor_name"`
	SessionTitle  string `db:"session_title" json:"session_title"`
}

// RequestFilter captures filtering criteria for listing requests.
type RequestFilter struct {
	StudentID   string
	ProfessorID string
	SessionID   string
	Status      RequestStatus
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
