package adherence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/adherence"
)

func TestPatientProfile(t *testing.T) {
	e := newEnv(t)

	_, err := e.profiles.CurrentPatient(e.ctx)
	assert.ErrorIs(t, err, adherence.ErrNotFound)
	_, err = e.profiles.UpdatePatient(e.ctx, adherence.Patient{Name: "Ana"})
	assert.ErrorIs(t, err, adherence.ErrNotFound)

	p, err := e.profiles.CreatePatient(e.ctx, adherence.Patient{
		Name:       "Ana",
		Email:      "Ana@Example.com ",
		Age:        67,
		Conditions: []string{"hypertension"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "ana@example.com", p.Email)

	_, err = e.profiles.CreatePatient(e.ctx, adherence.Patient{Name: "Second"})
	assert.ErrorIs(t, err, adherence.ErrValidation)

	upd, err := e.profiles.UpdatePatient(e.ctx, adherence.Patient{Name: "Ana M", Age: 68, ShareDataEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, p.ID, upd.ID)
	assert.Equal(t, p.CreatedAt, upd.CreatedAt)

	cur, err := e.profiles.CurrentPatient(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana M", cur.Name)
	assert.True(t, cur.ShareDataEnabled)
	assert.Empty(t, cur.Conditions)
}

func TestPatientValidation(t *testing.T) {
	e := newEnv(t)
	for _, p := range []adherence.Patient{
		{Name: ""},
		{Name: "A", Email: "not-an-email"},
		{Name: "A", Age: -1},
		{Name: "A", Conditions: []string{"asthma", "asthma"}},
	} {
		_, err := e.profiles.CreatePatient(e.ctx, p)
		assert.ErrorIs(t, err, adherence.ErrValidation, "%+v", p)
	}
}
