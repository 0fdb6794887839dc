package adherence

import (
	"context"
	"time"

	"medtrack/internal/jobs"
)

// Store is the persistence gateway. Lookups of a missing row return a
// *NotFoundError.
type Store interface {
	// InTx runs fn in one transaction; an error from fn rolls it back.
	InTx(ctx context.Context, fn func(tx Store) error) error

	MedicationStore
	ScheduleStore
	RecordStore
	ReminderStore
	PatientStore
	DispatchQueue
}

type MedicationStore interface {
	CreateMedication(ctx context.Context, m *Medication) error
	SaveMedication(ctx context.Context, m *Medication) error
	GetMedication(ctx context.Context, id string) (*Medication, error)
	// ListMedications orders by name.
	ListMedications(ctx context.Context, activeOnly bool) ([]Medication, error)
}

type ScheduleStore interface {
	// UpsertSchedules inserts slots keyed by (medication, time, date). A
	// conflicting slot is replaced only while it is still PENDING.
	UpsertSchedules(ctx context.Context, s []MedicationSchedule) error
	// GetScheduleForUpdate locks the row for the rest of the transaction.
	GetScheduleForUpdate(ctx context.Context, id string) (*MedicationSchedule, error)
	FindSchedule(ctx context.Context, medicationID, scheduledTime, date string) (*MedicationSchedule, error)
	SaveSchedule(ctx context.Context, s *MedicationSchedule) error
	// ListSchedules orders by scheduled time, then medication.
	ListSchedules(ctx context.Context, date string) ([]MedicationSchedule, error)
	// ListPendingThrough returns PENDING slots dated on or before date.
	ListPendingThrough(ctx context.Context, date string) ([]MedicationSchedule, error)
	DeleteSchedules(ctx context.Context, medicationID string) error
	// DeletePendingFrom drops PENDING slots dated from fromDate on whose time
	// is not in keepTimes.
	DeletePendingFrom(ctx context.Context, medicationID, fromDate string, keepTimes []string) error
}

type RecordStore interface {
	AppendRecord(ctx context.Context, r *AdherenceRecord) error
	// ListRecords covers the closed range [start, end], newest date first.
	ListRecords(ctx context.Context, medicationID, start, end string) ([]AdherenceRecord, error)
	CountRecords(ctx context.Context, medicationID, start, end string) (taken, total int64, err error)
}

type ReminderStore interface {
	// UpsertReminder creates or fully replaces the (medication, time) row.
	UpsertReminder(ctx context.Context, r *MedicationReminder) error
	SaveReminder(ctx context.Context, r *MedicationReminder) error
	GetReminder(ctx context.Context, medicationID, scheduledTime string) (*MedicationReminder, error)
	ListReminders(ctx context.Context, medicationID string) ([]MedicationReminder, error)
	ListActiveReminders(ctx context.Context) ([]MedicationReminder, error)
	// DisableReminders turns every reminder of the medication off, stamping
	// them with at.
	DisableReminders(ctx context.Context, medicationID string, at time.Time) error
}

type PatientStore interface {
	CurrentPatient(ctx context.Context) (*Patient, error)
	SavePatient(ctx context.Context, p *Patient) error
}

type DispatchQueue interface {
	Enqueue(ctx context.Context, j *jobs.Job) error
	CancelPending(ctx context.Context, keyPrefix string) error
}
