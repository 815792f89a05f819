package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ActionKind string

const (
	ActionSetSession   ActionKind = "SET_SESSION"
	ActionAddRecord    ActionKind = "ADD_RECORD"
	ActionDeleteRecord ActionKind = "DELETE_RECORD"
	ActionClearRecords ActionKind = "CLEAR_RECORDS"
	ActionClearSession ActionKind = "CLEAR_SESSION"
)

var AllActions = []ActionKind{
	ActionSetSession,
	ActionAddRecord,
	ActionDeleteRecord,
	ActionClearRecords,
	ActionClearSession,
}

// AdminOnly reports whether the action belongs to the administrator surface.
func (k ActionKind) AdminOnly() bool {
	return k != ActionAddRecord
}

// Outcome describes what Apply did with a mutation.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeLocked    Outcome = "locked"
)

// Mutation is the closed set of write actions. Only types in this package implement it.
type Mutation interface {
	Kind() ActionKind
	mutation()
}

type SetSession struct {
	Session SessionInfo
}

type AddRecord struct {
	Record AttendanceRecord
}

type DeleteRecord struct {
	ID string
}

type ClearRecords struct{}

type ClearSession struct{}

func (SetSession) Kind() ActionKind   { return ActionSetSession }
func (AddRecord) Kind() ActionKind    { return ActionAddRecord }
func (DeleteRecord) Kind() ActionKind { return ActionDeleteRecord }
func (ClearRecords) Kind() ActionKind { return ActionClearRecords }
func (ClearSession) Kind() ActionKind { return ActionClearSession }

func (SetSession) mutation()   {}
func (AddRecord) mutation()    {}
func (DeleteRecord) mutation() {}
func (ClearRecords) mutation() {}
func (ClearSession) mutation() {}

// ParseMutation decodes a wire {action, payload} pair into a typed Mutation.
func ParseMutation(action string, payload json.RawMessage) (Mutation, error) {
	kind := ActionKind(strings.TrimSpace(action))
	switch kind {
	case ActionSetSession:
		var session SessionInfo
		if err := decodePayload(payload, &session); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, kind, err)
		}
		return SetSession{Session: session}, nil
	case ActionAddRecord:
		var record AttendanceRecord
		if err := decodePayload(payload, &record); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, kind, err)
		}
		return AddRecord{Record: record}, nil
	case ActionDeleteRecord:
		var id string
		if err := decodePayload(payload, &id); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInput, kind, err)
		}
		return DeleteRecord{ID: id}, nil
	case ActionClearRecords:
		return ClearRecords{}, nil
	case ActionClearSession:
		return ClearSession{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func decodePayload(payload json.RawMessage, dst any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(payload, dst)
}

// Apply runs one mutation against db and returns the new state. db is not modified.
func Apply(db Database, m Mutation) (Database, Outcome) {
	next := db.normalized().Clone()
	switch m := m.(type) {
	case SetSession:
		session := m.Session
		next.ActiveSession = &session
		return next, OutcomeApplied
	case AddRecord:
		if next.HasRecordFor(m.Record.StudentID, m.Record.SessionID) {
			return next, OutcomeDuplicate
		}
		next.Records = append([]AttendanceRecord{m.Record}, next.Records...)
		return next, OutcomeApplied
	case DeleteRecord:
		kept := next.Records[:0]
		for _, record := range next.Records {
			if record.ID != m.ID {
				kept = append(kept, record)
			}
		}
		if len(kept) == len(next.Records) {
			return next, OutcomeNotFound
		}
		next.Records = kept
		return next, OutcomeApplied
	case ClearRecords:
		return next, OutcomeLocked
	case ClearSession:
		next.ActiveSession = nil
		return next, OutcomeApplied
	default:
		panic(fmt.Sprintf("attendance: unhandled mutation %T", m))
	}
}
