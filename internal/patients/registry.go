package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/thiagorragazzo/clinic-assistant/internal/pii"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinic-assistant.patients")

// Registry upserts and looks up patients, encrypting identity numbers on the
// way in and tolerating legacy plaintext on the way out.
type Registry struct {
	store  *store
	codec  *pii.Codec
	logger *logging.Logger
	now    func() time.Time
}

func NewRegistry(db DB, codec *pii.Codec, logger *logging.Logger) *Registry {
	if codec == nil {
		panic("patients: pii codec cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		store:  newStore(db),
		codec:  codec,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert creates the patient for id.ContactAddress or updates its name,
// identity number and email.
func (r *Registry) Upsert(ctx context.Context, id Identity) (UpsertResult, error) {
	ctx, span := tracer.Start(ctx, "patients.upsert")
	defer span.End()

	contact := strings.TrimSpace(id.ContactAddress)
	if contact == "" {
		return UpsertResult{}, errors.New("patients: contact address is required")
	}
	digits := validation.DigitsOnly(id.IdentityNumber)
	if digits == "" {
		return UpsertResult{}, errors.New("patients: identity number is required")
	}

	stored, err := r.codec.Encrypt(digits)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("patients: encrypt identity number: %w", err)
	}
	fingerprint := r.codec.Fingerprint(digits)

	patientID, inserted, err := r.store.Upsert(ctx, record{
		Name:           strings.Join(strings.Fields(id.Name), " "),
		Identity:       stored,
		Fingerprint:    &fingerprint,
		ContactAddress: contact,
		Email:          id.Email,
	}, r.now())
	if err != nil {
		span.RecordError(err)
		return UpsertResult{}, err
	}

	span.SetAttributes(attribute.Bool("patients.created", inserted))
	r.logger.Info("patient upserted", "patient_id", patientID, "contact", contact, "created", inserted)
	return UpsertResult{ID: patientID, Created: inserted, Updated: !inserted}, nil
}

// FindByContact returns the patient and its derived fields, or nil when the
// contact address is unknown.
func (r *Registry) FindByContact(ctx context.Context, contact string) (*Patient, error) {
	ctx, span := tracer.Start(ctx, "patients.find_by_contact")
	defer span.End()

	rec, err := r.store.FindByContact(ctx, strings.TrimSpace(contact))
	if err != nil || rec == nil {
		return nil, err
	}
	return r.toPatient(*rec)
}

// FindByIdentityNumber looks the number up by fingerprint. Rows written before
// fingerprints existed are scanned and decrypted one by one.
func (r *Registry) FindByIdentityNumber(ctx context.Context, number string) (*Patient, error) {
	ctx, span := tracer.Start(ctx, "patients.find_by_identity_number")
	defer span.End()

	digits := validation.DigitsOnly(number)
	if digits == "" {
		return nil, nil
	}

	rec, err := r.store.FindByFingerprint(ctx, r.codec.Fingerprint(digits))
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return r.toPatient(*rec)
	}

	legacy, err := r.store.ListUnfingerprinted(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("patients.legacy_scanned", len(legacy)))
	for _, candidate := range legacy {
		plain, err := r.reveal(candidate)
		if err != nil {
			r.logger.Warn("skipping undecryptable identity number", "patient_id", candidate.ID, "error", err)
			continue
		}
		if validation.DigitsOnly(plain) == digits {
			return r.toPatient(candidate)
		}
	}
	return nil, nil
}

// MigrateLegacy encrypts plaintext identity numbers and back-fills missing
// fingerprints. It returns the number of rows rewritten.
func (r *Registry) MigrateLegacy(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "patients.migrate_legacy")
	defer span.End()

	rows, err := r.store.ListUnfingerprinted(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, rec := range rows {
		plain, err := r.reveal(rec)
		if err != nil {
			r.logger.Error("cannot migrate identity number", "patient_id", rec.ID, "error", err)
			continue
		}
		digits := validation.DigitsOnly(plain)
		stored := rec.Identity
		if !pii.IsToken(stored) {
			if stored, err = r.codec.Encrypt(digits); err != nil {
				return migrated, fmt.Errorf("patients: encrypt identity number: %w", err)
			}
		}
		if err := r.store.SetIdentity(ctx, rec.ID, stored, r.codec.Fingerprint(digits)); err != nil {
			return migrated, err
		}
		migrated++
	}

	if migrated > 0 {
		r.logger.Info("legacy identity numbers migrated", "count", migrated)
	}
	return migrated, nil
}

func (r *Registry) reveal(rec record) (string, error) {
	plain, legacy, err := r.codec.Reveal(rec.Identity)
	if err != nil {
		return "", err
	}
	if legacy {
		r.logger.Warn("legacy plaintext identity number read", "patient_id", rec.ID)
	}
	return plain, nil
}

func (r *Registry) toPatient(rec record) (*Patient, error) {
	plain, err := r.reveal(rec)
	if err != nil {
		return nil, fmt.Errorf("patients: reveal identity number for %s: %w", rec.ID, err)
	}
	return &Patient{
		ID:               rec.ID,
		Name:             rec.Name,
		IdentityNumber:   plain,
		ContactAddress:   rec.ContactAddress,
		Email:            rec.Email,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		LastCompletedAt:  rec.LastCompletedAt,
		AppointmentCount: int(rec.AppointmentCount),
	}, nil
}

// SameIdentity reports whether the patient's stored number equals number
// once both are reduced to digits.
func (p *Patient) SameIdentity(number string) bool {
	if p == nil {
		return false
	}
	digits := validation.DigitsOnly(number)
	return digits != "" && validation.DigitsOnly(p.IdentityNumber) == digits
}
