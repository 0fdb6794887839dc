package adherence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSchedules(t *testing.T) {
	m := Medication{ID: "med-1", Frequency: []string{"08:00", "20:00"}}
	start := time.Date(2024, 2, 27, 13, 0, 0, 0, time.UTC)

	got := GenerateSchedules(m, start, 4)
	require.Len(t, got, 8)

	wantDates := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}
	for i, s := range got {
		assert.Equal(t, wantDates[i/2], s.Date)
		assert.Equal(t, m.Frequency[i%2], s.ScheduledTime)
		assert.Equal(t, StatusPending, s.Status)
		assert.Nil(t, s.TakenAt)
		assert.Nil(t, s.SkippedAt)
		assert.Equal(t, ScheduleID("med-1", s.ScheduledTime, s.Date), s.ID)
	}
}

func TestGenerateSchedulesIsDeterministic(t *testing.T) {
	m := Medication{ID: "med-1", Frequency: []string{"09:30"}}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, GenerateSchedules(m, start, DefaultLookAhead), GenerateSchedules(m, start, DefaultLookAhead))
	assert.NotEqual(t, ScheduleID("med-1", "09:30", "2024-01-01"), ScheduleID("med-2", "09:30", "2024-01-01"))
}

func TestGenerateSchedulesEmptyFrequency(t *testing.T) {
	assert.Empty(t, GenerateSchedules(Medication{ID: "x"}, time.Now(), 7))
	assert.Empty(t, GenerateSchedules(Medication{ID: "x", Frequency: []string{"08:00"}}, time.Now(), 0))
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	next, err := nextOccurrence(now, "08:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC), next)

	next, err = nextOccurrence(now, "08:01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 8, 1, 0, 0, time.UTC), next)

	_, err = nextOccurrence(now, "8am")
	assert.Error(t, err)
}

func TestDueAtUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	due, err := dueAt(MedicationSchedule{Date: "2024-03-10", ScheduledTime: "08:00"}, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), due.UTC())
}

func TestValidateMedication(t *testing.T) {
	tests := []struct {
		name  string
		med   Medication
		field string
	}{
		{"empty frequency", Medication{Name: "A"}, "frequency"},
		{"unpadded time", Medication{Name: "A", Frequency: []string{"8:00"}}, "frequency[0]"},
		{"out of range", Medication{Name: "A", Frequency: []string{"24:00"}}, "frequency[0]"},
		{"duplicate times", Medication{Name: "A", Frequency: []string{"08:00", "08:00"}}, "frequency"},
		{"missing name", Medication{Name: "  ", Frequency: []string{"08:00"}}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMedication(&tt.med)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	ok := Medication{Name: " Aspirin ", Frequency: []string{"20:00", " 08:00"}}
	require.NoError(t, validateMedication(&ok))
	assert.Equal(t, "Aspirin", ok.Name)
	assert.Equal(t, []string{"08:00", "20:00"}, []string(ok.Frequency))
}

func TestValidatorKnowsHHMM(t *testing.T) {
	require.NotPanics(t, func() { newValidator() })
	v := newValidator()
	assert.NoError(t, v.Var("08:00", "hhmm"))
	assert.Error(t, v.Var("8am", "hhmm"))
	assert.Error(t, v.Var("24:00", "hhmm"))
}

func TestStorageErrPassesDomainErrors(t *testing.T) {
	nf := &NotFoundError{Kind: "medication", ID: "x"}
	assert.Same(t, nf, storageErr("op", nf))

	err := storageErr("op", assert.AnError)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, storageErr("op", nil))
}
