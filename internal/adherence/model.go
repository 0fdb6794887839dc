package adherence

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Status of a dose. PENDING is the only non-terminal state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusTaken   Status = "TAKEN"
	StatusSkipped Status = "SKIPPED"
	StatusMissed  Status = "MISSED"
)

func (s Status) Terminal() bool {
	return s == StatusTaken || s == StatusSkipped || s == StatusMissed
}

func ParseStatus(v string) (Status, bool) {
	switch s := Status(v); s {
	case StatusPending, StatusTaken, StatusSkipped, StatusMissed:
		return s, true
	}
	return "", false
}

const (
	// DateLayout keeps lexical order equal to chronological order.
	DateLayout = "2006-01-02"
	// TimeLayout is zero-padded 24h, same property as DateLayout.
	TimeLayout = "15:04"
)

// Medication is the root entity. Deleting one only flips Active.
type Medication struct {
	ID           string         `gorm:"primaryKey;type:text" json:"id"`
	Name         string         `gorm:"type:text;not null" json:"name" validate:"required,max=200"`
	Dosage       string         `gorm:"type:text;not null;default:''" json:"dosage" validate:"max=100"`
	Frequency    pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"frequency" validate:"required,min=1,max=24,unique,dive,hhmm"`
	Instructions string         `gorm:"type:text;not null;default:''" json:"instructions" validate:"max=2000"`
	Active       bool           `gorm:"index;not null" json:"active"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

// MedicationSchedule is one dose slot. Status is the current view of the
// slot; the matching AdherenceRecord is the durable log.
type MedicationSchedule struct {
	ID            string     `gorm:"primaryKey;type:text" json:"id"`
	MedicationID  string     `gorm:"type:text;not null;uniqueIndex:uq_schedule_slot,priority:1" json:"medication_id"`
	ScheduledTime string     `gorm:"type:text;not null;uniqueIndex:uq_schedule_slot,priority:3" json:"scheduled_time"`
	Date          string     `gorm:"type:text;not null;index;uniqueIndex:uq_schedule_slot,priority:2" json:"date"`
	Status        Status     `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	TakenAt       *time.Time `gorm:"type:timestamptz" json:"taken_at,omitempty"`
	SkippedAt     *time.Time `gorm:"type:timestamptz" json:"skipped_at,omitempty"`
}

// AdherenceRecord is append-only. It is never updated in place.
type AdherenceRecord struct {
	ID           string     `gorm:"primaryKey;type:text" json:"id"`
	MedicationID string     `gorm:"type:text;not null;index:idx_records_med_date,priority:1" json:"medication_id"`
	Date         string     `gorm:"type:text;not null;index:idx_records_med_date,priority:2" json:"date"`
	Status       Status     `gorm:"type:text;not null" json:"status"`
	Timestamp    *time.Time `gorm:"type:timestamptz" json:"timestamp,omitempty"`
	Notes        *string    `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
}

// MedicationReminder is keyed by (MedicationID, ScheduledTime). Cancel only
// disables it.
type MedicationReminder struct {
	ID            string     `gorm:"primaryKey;type:text" json:"id"`
	MedicationID  string     `gorm:"type:text;not null;uniqueIndex:uq_reminder_slot,priority:1" json:"medication_id"`
	ScheduledTime string     `gorm:"type:text;not null;uniqueIndex:uq_reminder_slot,priority:2" json:"scheduled_time"`
	Enabled       bool       `gorm:"index;not null" json:"enabled"`
	SnoozeCount   int        `gorm:"not null;default:0" json:"snooze_count"`
	LastSnoozeAt  *time.Time `gorm:"type:timestamptz" json:"last_snooze_at,omitempty"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

type Patient struct {
	ID               string         `gorm:"primaryKey;type:text" json:"id"`
	Name             string         `gorm:"type:text;not null" json:"name" validate:"required,max=200"`
	Email            string         `gorm:"type:text;not null;default:''" json:"email" validate:"omitempty,email"`
	Age              int            `gorm:"not null;default:0" json:"age" validate:"gte=0,lte=150"`
	Conditions       pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"conditions" validate:"unique,dive,required"`
	EmergencyContact string         `gorm:"type:text;not null;default:''" json:"emergency_contact"`
	ShareDataEnabled bool           `gorm:"not null" json:"share_data_enabled"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

// MedicationWithSchedule is the read model behind the day view.
type MedicationWithSchedule struct {
	Medication    Medication           `json:"medication"`
	Schedules     []MedicationSchedule `json:"schedules"`
	AdherenceRate float64              `json:"adherence_rate"`
}

var idNamespace = uuid.MustParse("6f1c8f1e-3b7a-4d0e-9a53-2f4de0c1b7a9")

// ScheduleID is derived from the slot so regenerating a window hits the
// same primary key.
func ScheduleID(medicationID, scheduledTime, date string) string {
	return uuid.NewSHA1(idNamespace, []byte("schedule|"+medicationID+"|"+scheduledTime+"|"+date)).String()
}

func ReminderID(medicationID, scheduledTime string) string {
	return uuid.NewSHA1(idNamespace, []byte("reminder|"+medicationID+"|"+scheduledTime)).String()
}

func newID() string {
	return uuid.NewString()
}
