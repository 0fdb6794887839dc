package adherence

import "time"

// DefaultLookAhead is the number of days pre-generated per medication.
const DefaultLookAhead = 7

// GenerateSchedules returns one PENDING slot per frequency entry per day for
// dates [start, start+days). An empty frequency yields nothing.
func GenerateSchedules(m Medication, start time.Time, days int) []MedicationSchedule {
	if len(m.Frequency) == 0 || days <= 0 {
		return nil
	}
	out := make([]MedicationSchedule, 0, len(m.Frequency)*days)
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d).Format(DateLayout)
		for _, t := range m.Frequency {
			out = append(out, MedicationSchedule{
				ID:            ScheduleID(m.ID, t, date),
				MedicationID:  m.ID,
				ScheduledTime: t,
				Date:          date,
				Status:        StatusPending,
			})
		}
	}
	return out
}

// dueAt resolves a slot to an instant in loc.
func dueAt(s MedicationSchedule, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, s.Date+" "+s.ScheduledTime, loc)
}

// nextOccurrence is the first instant at hh:mm strictly after now.
func nextOccurrence(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
