package jobs

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const TypeReminderDispatch = "REMINDER_DISPATCH"

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusDone      = "DONE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

type Job struct {
	ID uint64 `gorm:"primaryKey"`

	Type    string         `gorm:"type:text;not null"` // REMINDER_DISPATCH
	Key     string         `gorm:"column:job_key;type:text;not null;default:''"`
	Payload datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'::jsonb"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"index;not null;default:'PENDING'"` // PENDING/RUNNING/DONE/FAILED/CANCELLED

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"type:timestamptz"`

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

// ReminderPayload is what the external trigger receives for one firing.
type ReminderPayload struct {
	MedicationID   string `json:"medication_id"`
	MedicationName string `json:"medication_name"`
	ScheduledTime  string `json:"scheduled_time"`
	Dosage         string `json:"dosage"`
	// Date is the day of the dose this firing is about. It stays fixed when
	// the job runs late or is retried past midnight.
	Date string `json:"date,omitempty"`
	// Recurring dispatches re-enqueue themselves for the next day.
	Recurring bool `json:"recurring"`
}

func ReminderKeyPrefix(medicationID string) string {
	return "reminder:" + medicationID + ":"
}

func ReminderKey(medicationID, scheduledTime string) string {
	return ReminderKeyPrefix(medicationID) + "at:" + scheduledTime
}

func SnoozeKey(medicationID, scheduledTime string) string {
	return ReminderKeyPrefix(medicationID) + "snooze:" + scheduledTime
}

func NewReminderJob(key string, p ReminderPayload, runAt time.Time) (*Job, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &Job{
		Type:        TypeReminderDispatch,
		Key:         key,
		Payload:     datatypes.JSON(b),
		RunAt:       runAt,
		Status:      StatusPending,
		MaxAttempts: 8,
	}, nil
}

func DecodeReminder(j *Job) (ReminderPayload, error) {
	var p ReminderPayload
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}
