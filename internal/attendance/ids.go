package attendance

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout matches JavaScript's Date.toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

func NewSessionInfo(name string, now time.Time) SessionInfo {
	return SessionInfo{
		ID:   "session_" + strconv.FormatInt(now.UnixMilli(), 10),
		Name: strings.TrimSpace(name),
	}
}

// NewRecord stamps a check-in for session. Day is the weekday of now in its own location.
func NewRecord(session SessionInfo, studentName, studentID string, now time.Time) AttendanceRecord {
	return AttendanceRecord{
		ID:          uuid.NewString(),
		StudentName: strings.TrimSpace(studentName),
		StudentID:   strings.TrimSpace(studentID),
		Timestamp:   now.UTC().Format(TimestampLayout),
		Day:         now.Weekday().String(),
		SessionID:   session.ID,
		SessionName: session.Name,
	}
}
