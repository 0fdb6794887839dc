package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"medtrack/internal/adherence"
	"medtrack/internal/jobs"
)

func Connect(dsn string, debug bool) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	gdb, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&adherence.Medication{},
		&adherence.MedicationSchedule{},
		&adherence.AdherenceRecord{},
		&adherence.MedicationReminder{},
		&adherence.Patient{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	// Sweep scans only what is still open.
	if err := gdb.Exec(`
create index if not exists idx_schedules_pending
on medication_schedules(date, scheduled_time)
where status = 'PENDING';
`).Error; err != nil {
		return err
	}

	// Patient conditions filter (GIN for text[])
	if err := gdb.Exec(`create index if not exists idx_patients_conditions on patients using gin (conditions);`).Error; err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_schedules_med_date on medication_schedules(medication_id, date);`,
		`create index if not exists idx_reminders_enabled on medication_reminders(medication_id, scheduled_time) where enabled;`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
		`create index if not exists idx_jobs_key on jobs(job_key text_pattern_ops) where status = 'PENDING';`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
