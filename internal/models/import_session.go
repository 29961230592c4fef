package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SessionState string

const (
	StateUpload    SessionState = "upload"
	StateParsing   SessionState = "parsing"
	StateMatching  SessionState = "matching"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
)

var stateRank = map[SessionState]int{
	StateUpload:    0,
	StateParsing:   1,
	StateMatching:  2,
	StateCompleted: 3,
}

func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var ErrInvalidTransition = errors.New("invalid session transition")

// ImportSession is the unit of work for one settlement file import.
type ImportSession struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID string       `gorm:"index;not null" json:"organization_id"`
	FileID         uuid.UUID    `gorm:"type:uuid;index" json:"file_id"`
	Source         SourceKind   `json:"source"`
	Period         string       `gorm:"size:7" json:"period"`
	State          SessionState `gorm:"index" json:"state"`
	Progress       int          `json:"progress"`
	StepMessage    string       `json:"step_message"`

	UpdatedCount   int `json:"updated_count"`
	MatchedCount   int `json:"matched_count"`
	UnmatchedCount int `json:"unmatched_count"`
	ImportedCount  int `json:"imported_count"`
	ReviewCount    int `json:"review_count"`
	WarningCount   int `json:"warning_count"`
	DuplicateCount int `json:"duplicate_count"`

	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       datatypes.JSON `json:"-"`

	// Replayed is set on the returned session when an identical upload was short-circuited.
	Replayed bool `gorm:"-" json:"replayed,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	ClosedBy   string     `json:"closed_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Advance moves the session forward. States may be skipped but never revisited,
// and nothing leaves a terminal state.
func (s *ImportSession) Advance(to SessionState) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, s.State)
	}
	if to != StateFailed && stateRank[to] <= stateRank[s.State] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// Fail moves the session to failed, retaining the triggering error.
func (s *ImportSession) Fail(code, message string, at time.Time) error {
	if err := s.Advance(StateFailed); err != nil {
		return err
	}
	s.ErrorCode = code
	s.ErrorMessage = message
	s.FinishedAt = &at
	return nil
}

func (s *ImportSession) SetResult(r *ImportResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding session result: %w", err)
	}
	s.Result = datatypes.JSON(data)
	s.UpdatedCount = r.Updated
	s.MatchedCount = len(r.Matches)
	s.UnmatchedCount = len(r.Unmatched)
	s.ImportedCount = len(r.Imported)
	s.ReviewCount = len(r.Review)
	s.WarningCount = len(r.Warnings)
	s.DuplicateCount = r.Duplicates
	return nil
}

// DecodeResult returns the stored result snapshot, or nil before completion.
func (s *ImportSession) DecodeResult() (*ImportResult, error) {
	if len(s.Result) == 0 {
		return nil, nil
	}
	var r ImportResult
	if err := json.Unmarshal(s.Result, &r); err != nil {
		return nil, fmt.Errorf("decoding session result: %w", err)
	}
	return &r, nil
}

// LockKey is the advisory lock key guarding matching for this session.
func (s *ImportSession) LockKey() string {
	return s.OrganizationID + "|" + s.Period + "|" + string(s.Source)
}
