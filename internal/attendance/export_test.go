package attendance

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWriteCSVSortsAscendingWithISOWeek(t *testing.T) {
	records := []AttendanceRecord{
		{ID: "r2", StudentName: "Budi", StudentID: "S2", Timestamp: "2024-01-02T10:00:00.000Z", Day: "Tuesday", SessionName: "Math"},
		{ID: "r1", StudentName: "Lee, Ann", StudentID: "S1", Timestamp: "2023-12-31T09:30:00.000Z", Day: "Sunday", SessionName: "Math"},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, time.UTC); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	want := strings.Join([]string{
		"Week,Day,Time,Student Name,Student ID,Session Name",
		`Week 52,Sunday,09:30:00,"Lee, Ann",S1,Math`,
		"Week 1,Tuesday,10:00:00,Budi,S2,Math",
		"",
	}, "\n")
	if buf.String() != want {
		t.Fatalf("unexpected csv:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteCSVEmptyIsHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil, time.UTC); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if buf.String() != "Week,Day,Time,Student Name,Student ID,Session Name\n" {
		t.Fatalf("unexpected csv %q", buf.String())
	}
}

func TestWriteCSVUnparseableTimestampSortsLast(t *testing.T) {
	records := []AttendanceRecord{
		{StudentName: "Broken", Timestamp: "yesterday"},
		{StudentName: "Ok", Timestamp: "2024-03-04T08:00:00.000Z", Day: "Monday"},
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records, time.UTC); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.Contains(lines[1], "Ok") || lines[2] != ",,,Broken,," {
		t.Fatalf("unexpected rows %q", lines)
	}
}

func TestStudentLink(t *testing.T) {
	got := StudentLink("http://localhost:3000/", SessionInfo{ID: "session_1", Name: "Math 101"})
	want := "http://localhost:3000/?sessionID=session_1&sessionName=Math+101"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestQRCodePNG(t *testing.T) {
	png, err := QRCodePNG("http://localhost:3000/?sessionID=session_1", 100)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected PNG bytes")
	}
	if ClampQRSize(0) != DefaultQRSize || ClampQRSize(5000) != MaxQRSize || ClampQRSize(10) != MinQRSize {
		t.Fatalf("unexpected clamp results")
	}
}

func TestNewSessionInfoAndRecord(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 123*int(time.Millisecond), time.UTC)
	session := NewSessionInfo("  Math  ", now)
	if session.ID != "session_"+strconv.FormatInt(now.UnixMilli(), 10) || session.Name != "Math" {
		t.Fatalf("unexpected session %+v", session)
	}
	record := NewRecord(session, "Ana", "S1", now)
	if _, err := uuid.Parse(record.ID); err != nil {
		t.Fatalf("expected uuid record id, got %q", record.ID)
	}
	if record.Timestamp != "2024-01-02T10:00:00.123Z" {
		t.Fatalf("unexpected timestamp %s", record.Timestamp)
	}
	if record.Day != "Tuesday" || record.SessionID != session.ID || record.SessionName != "Math" {
		t.Fatalf("unexpected record %+v", record)
	}
}
