package schedule

import (
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

const productID = "-//pai-study//schedule//EN"

var eventNamespace = uuid.MustParse("6f1c2a9e-7b0d-4e55-9d1a-2c8e4b3f5a10")

// ExportICS renders entries as an iCalendar document with one event per session.
// Event UIDs are derived from the session date and subtopic so re-exports of the
// same schedule update existing calendar entries.
func ExportICS(entries []Entry, now time.Time) string {
	cal := ics.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ics.MethodPublish)

	for _, e := range entries {
		uid := uuid.NewSHA1(eventNamespace, []byte(e.Date.Format(time.DateOnly)+"|"+e.Module+"|"+e.Chapter+"|"+e.Subtopic))
		event := cal.AddEvent(uid.String())
		event.SetDtStampTime(now)
		event.SetStartAt(e.StartsAt())
		event.SetEndAt(e.EndsAt())
		event.SetSummary(eventSummary(e))
		event.SetDescription(fmt.Sprintf("Module: %s\nChapter: %s\nUrgent: %s", e.Module, e.Chapter, yesNo(e.Urgent)))
	}
	return cal.Serialize()
}

func eventSummary(e Entry) string {
	s := "Study: " + e.Summary
	if e.Urgent {
		s += " (Urgent)"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
