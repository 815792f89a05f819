package attendance

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"
)

const ExportFileName = "attendance_logs_weekly.csv"

var exportHeader = []string{"Week", "Day", "Time", "Student Name", "Student ID", "Session Name"}

// WriteCSV writes records oldest-first. Week and Time are computed in loc; a
// record whose timestamp does not parse keeps its other columns and sorts last.
func WriteCSV(w io.Writer, records []AttendanceRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	type row struct {
		record AttendanceRecord
		at     time.Time
		ok     bool
	}
	rows := make([]row, 0, len(records))
	for _, record := range records {
		at, err := time.Parse(time.RFC3339Nano, record.Timestamp)
		rows = append(rows, row{record: record, at: at.In(loc), ok: err == nil})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ok != rows[j].ok {
			return rows[i].ok
		}
		return rows[i].at.Before(rows[j].at)
	})

	out := csv.NewWriter(w)
	if err := out.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		week, clock := "", ""
		if r.ok {
			_, isoWeek := r.at.ISOWeek()
			week = fmt.Sprintf("Week %d", isoWeek)
			clock = r.at.Format("15:04:05")
		}
		if err := out.Write([]string{
			week,
			r.record.Day,
			clock,
			r.record.StudentName,
			r.record.StudentID,
			r.record.SessionName,
		}); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
