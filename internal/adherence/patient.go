package adherence

import (
	"context"
	"errors"
)

// Profiles manages the single patient profile owned by this device.
type Profiles struct {
	store Store
	clock Clock
}

func NewProfiles(store Store, clock Clock) *Profiles {
	if clock == nil {
		clock = SystemClock()
	}
	return &Profiles{store: store, clock: clock}
}

func (p *Profiles) CurrentPatient(ctx context.Context) (*Patient, error) {
	pt, err := p.store.CurrentPatient(ctx)
	return pt, storageErr("current patient", err)
}

// CreatePatient is onboarding. A second profile is rejected.
func (p *Profiles) CreatePatient(ctx context.Context, in Patient) (*Patient, error) {
	if err := validatePatient(&in); err != nil {
		return nil, err
	}
	now := p.clock.Now()
	in.ID = newID()
	in.CreatedAt = now
	in.UpdatedAt = now

	err := p.store.InTx(ctx, func(tx Store) error {
		_, err := tx.CurrentPatient(ctx)
		if err == nil {
			return invalid("patient", "profile already exists")
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return tx.SavePatient(ctx, &in)
	})
	if err != nil {
		return nil, storageErr("create patient", err)
	}
	return &in, nil
}

func (p *Profiles) UpdatePatient(ctx context.Context, in Patient) (*Patient, error) {
	if err := validatePatient(&in); err != nil {
		return nil, err
	}
	err := p.store.InTx(ctx, func(tx Store) error {
		cur, err := tx.CurrentPatient(ctx)
		if err != nil {
			return err
		}
		in.ID = cur.ID
		in.CreatedAt = cur.CreatedAt
		in.UpdatedAt = p.clock.Now()
		return tx.SavePatient(ctx, &in)
	})
	if err != nil {
		return nil, storageErr("update patient", err)
	}
	return &in, nil
}
