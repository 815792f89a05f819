package attendance

import (
	"encoding/json"
	"errors"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotImplemented       = errors.New("not implemented")
	ErrUnknownAction        = errors.New("unknown action")
	ErrStoreTimeout         = errors.New("durable store timeout")
	ErrFallbackUnreadable   = errors.New("local fallback unreadable")
	ErrReliabilityFailure   = errors.New("could not load data from any source")
	ErrDurableNotConfigured = errors.New("durable store not configured")
	ErrDurableCorrupt       = errors.New("durable value cannot be decoded")
)

const (
	KeyActiveSession = "activeSession"
	KeyRecords       = "records"
)

type SessionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type AttendanceRecord struct {
	ID          string `json:"id"`
	StudentName string `json:"studentName"`
	StudentID   string `json:"studentId"`
	Timestamp   string `json:"timestamp"`
	Day         string `json:"day"`
	SessionID   string `json:"sessionId"`
	SessionName string `json:"sessionName"`
}

// Database is the whole persisted root. Records are newest-first.
type Database struct {
	ActiveSession *SessionInfo       `json:"activeSession"`
	Records       []AttendanceRecord `json:"records"`
}

func EmptyDatabase() Database {
	return Database{Records: []AttendanceRecord{}}
}

// Clone returns a deep copy so callers can mutate without touching a shared snapshot.
func (db Database) Clone() Database {
	out := Database{Records: make([]AttendanceRecord, len(db.Records))}
	copy(out.Records, db.Records)
	if db.ActiveSession != nil {
		session := *db.ActiveSession
		out.ActiveSession = &session
	}
	return out
}

func (db Database) HasRecordFor(studentID, sessionID string) bool {
	for _, record := range db.Records {
		if record.StudentID == studentID && record.SessionID == sessionID {
			return true
		}
	}
	return false
}

func (db Database) FindRecord(id string) (AttendanceRecord, bool) {
	for _, record := range db.Records {
		if record.ID == id {
			return record, true
		}
	}
	return AttendanceRecord{}, false
}

// normalized substitutes empty defaults for missing fields.
func (db Database) normalized() Database {
	if db.Records == nil {
		db.Records = []AttendanceRecord{}
	}
	return db
}

func decodeDatabase(data []byte) (Database, error) {
	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return Database{}, err
	}
	return db.normalized(), nil
}
