// Package gormstore is the Postgres-backed Store.
package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medtrack/internal/adherence"
	"medtrack/internal/jobs"
)

type Store struct {
	DB *gorm.DB
}

var _ adherence.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

func (s *Store) queue() *jobs.Repo {
	return &jobs.Repo{DB: s.DB}
}

func (s *Store) InTx(ctx context.Context, fn func(tx adherence.Store) error) error {
	return s.db(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &adherence.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// update writes every column of an existing row.
func update(q *gorm.DB, v any, kind, id string) error {
	res := q.Model(v).Select("*").Updates(v)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &adherence.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// -- medications --

func (s *Store) CreateMedication(ctx context.Context, m *adherence.Medication) error {
	return s.db(ctx).Create(m).Error
}

func (s *Store) SaveMedication(ctx context.Context, m *adherence.Medication) error {
	return update(s.db(ctx), m, "medication", m.ID)
}

func (s *Store) GetMedication(ctx context.Context, id string) (*adherence.Medication, error) {
	var m adherence.Medication
	if err := s.db(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, "medication", id)
	}
	return &m, nil
}

func (s *Store) ListMedications(ctx context.Context, activeOnly bool) ([]adherence.Medication, error) {
	var ms []adherence.Medication
	q := s.db(ctx).Order("name asc, id asc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	return ms, q.Find(&ms).Error
}

// -- schedules --

func (s *Store) UpsertSchedules(ctx context.Context, in []adherence.MedicationSchedule) error {
	if len(in) == 0 {
		return nil
	}
	return s.db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "medication_id"}, {Name: "date"}, {Name: "scheduled_time"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "medication_schedules.status = ?", Vars: []any{string(adherence.StatusPending)}},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "taken_at", "skipped_at"}),
	}).CreateInBatches(&in, 500).Error
}

func (s *Store) GetScheduleForUpdate(ctx context.Context, id string) (*adherence.MedicationSchedule, error) {
	var sc adherence.MedicationSchedule
	err := s.db(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sc).Error
	if err != nil {
		return nil, notFound(err, "schedule", id)
	}
	return &sc, nil
}

func (s *Store) FindSchedule(ctx context.Context, medicationID, scheduledTime, date string) (*adherence.MedicationSchedule, error) {
	var sc adherence.MedicationSchedule
	err := s.db(ctx).
		Where("medication_id = ? AND scheduled_time = ? AND date = ?", medicationID, scheduledTime, date).
		First(&sc).Error
	if err != nil {
		return nil, notFound(err, "schedule", medicationID+"@"+date+" "+scheduledTime)
	}
	return &sc, nil
}

func (s *Store) SaveSchedule(ctx context.Context, sc *adherence.MedicationSchedule) error {
	return update(s.db(ctx), sc, "schedule", sc.ID)
}

func (s *Store) ListSchedules(ctx context.Context, date string) ([]adherence.MedicationSchedule, error) {
	var out []adherence.MedicationSchedule
	err := s.db(ctx).
		Where("date = ?", date).
		Order("scheduled_time asc, medication_id asc").
		Find(&out).Error
	return out, err
}

func (s *Store) ListPendingThrough(ctx context.Context, date string) ([]adherence.MedicationSchedule, error) {
	var out []adherence.MedicationSchedule
	err := s.db(ctx).
		Where("status = ? AND date <= ?", adherence.StatusPending, date).
		Order("date asc, scheduled_time asc, medication_id asc").
		Find(&out).Error
	return out, err
}

func (s *Store) DeleteSchedules(ctx context.Context, medicationID string) error {
	return s.db(ctx).Where("medication_id = ?", medicationID).Delete(&adherence.MedicationSchedule{}).Error
}

func (s *Store) DeletePendingFrom(ctx context.Context, medicationID, fromDate string, keepTimes []string) error {
	q := s.db(ctx).Where("medication_id = ? AND status = ? AND date >= ?", medicationID, adherence.StatusPending, fromDate)
	if len(keepTimes) > 0 {
		q = q.Where("scheduled_time NOT IN ?", keepTimes)
	}
	return q.Delete(&adherence.MedicationSchedule{}).Error
}

// -- records --

func (s *Store) AppendRecord(ctx context.Context, r *adherence.AdherenceRecord) error {
	return s.db(ctx).Create(r).Error
}

func (s *Store) ListRecords(ctx context.Context, medicationID, start, end string) ([]adherence.AdherenceRecord, error) {
	var out []adherence.AdherenceRecord
	err := s.db(ctx).
		Where("medication_id = ? AND date BETWEEN ? AND ?", medicationID, start, end).
		Order("date desc, created_at desc").
		Find(&out).Error
	return out, err
}

func (s *Store) CountRecords(ctx context.Context, medicationID, start, end string) (int64, int64, error) {
	var row struct {
		Taken int64
		Total int64
	}
	err := s.db(ctx).Raw(`
select count(*) filter (where status = 'TAKEN') as taken,
       count(*) as total
from adherence_records
where medication_id = ? and date between ? and ?`, medicationID, start, end).Scan(&row).Error
	return row.Taken, row.Total, err
}

// -- reminders --

func (s *Store) UpsertReminder(ctx context.Context, r *adherence.MedicationReminder) error {
	return s.db(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "medication_id"}, {Name: "scheduled_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "snooze_count", "last_snooze_at", "updated_at"}),
	}).Create(r).Error
}

func (s *Store) SaveReminder(ctx context.Context, r *adherence.MedicationReminder) error {
	return update(s.db(ctx), r, "reminder", r.ID)
}

func (s *Store) GetReminder(ctx context.Context, medicationID, scheduledTime string) (*adherence.MedicationReminder, error) {
	var r adherence.MedicationReminder
	err := s.db(ctx).
		Where("medication_id = ? AND scheduled_time = ?", medicationID, scheduledTime).
		First(&r).Error
	if err != nil {
		return nil, notFound(err, "reminder", medicationID+" "+scheduledTime)
	}
	return &r, nil
}

func (s *Store) ListReminders(ctx context.Context, medicationID string) ([]adherence.MedicationReminder, error) {
	var out []adherence.MedicationReminder
	err := s.db(ctx).Where("medication_id = ?", medicationID).Order("scheduled_time asc").Find(&out).Error
	return out, err
}

func (s *Store) ListActiveReminders(ctx context.Context) ([]adherence.MedicationReminder, error) {
	var out []adherence.MedicationReminder
	err := s.db(ctx).Where("enabled = ?", true).Order("medication_id asc, scheduled_time asc").Find(&out).Error
	return out, err
}

func (s *Store) DisableReminders(ctx context.Context, medicationID string, at time.Time) error {
	return s.db(ctx).Model(&adherence.MedicationReminder{}).
		Where("medication_id = ? AND enabled = ?", medicationID, true).
		Updates(map[string]any{"enabled": false, "updated_at": at}).Error
}

// -- patient --

func (s *Store) CurrentPatient(ctx context.Context) (*adherence.Patient, error) {
	var p adherence.Patient
	if err := s.db(ctx).Order("created_at asc").First(&p).Error; err != nil {
		return nil, notFound(err, "patient", "current")
	}
	return &p, nil
}

func (s *Store) SavePatient(ctx context.Context, p *adherence.Patient) error {
	return s.db(ctx).Save(p).Error
}

// -- dispatch queue --

func (s *Store) Enqueue(ctx context.Context, j *jobs.Job) error {
	return s.queue().Enqueue(ctx, j)
}

func (s *Store) CancelPending(ctx context.Context, keyPrefix string) error {
	return s.queue().CancelPending(ctx, keyPrefix)
}
