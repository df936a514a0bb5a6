package patients

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiagorragazzo/clinic-assistant/internal/pii"
)

var patientColumns = []string{
	"id", "name", "identity_number", "identity_fingerprint", "contact_address", "email",
	"created_at", "updated_at", "last_completed_at", "appointment_count",
}

func newTestRegistry(t *testing.T) (*Registry, pgxmock.PgxPoolIface, *pii.Codec) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	codec, err := pii.NewCodecFromHex(strings.Repeat("1f", 32))
	require.NoError(t, err)
	return NewRegistry(mock, codec, nil), mock, codec
}

func strPtr(s string) *string { return &s }

func TestRegistryUpsertCreates(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)
	id := uuid.New()

	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), "Ana Silva", pgxmock.AnyArg(), pgxmock.AnyArg(), "whatsapp:+5511999990000", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(id, true))

	res, err := reg.Upsert(context.Background(), Identity{
		Name:           "  Ana   Silva ",
		IdentityNumber: "111.444.777-35",
		ContactAddress: "whatsapp:+5511999990000",
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{ID: id, Created: true}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryUpsertUpdatesExisting(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)
	id := uuid.New()

	mock.ExpectQuery("ON CONFLICT \\(contact_address\\) DO UPDATE").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(id, false))

	res, err := reg.Upsert(context.Background(), Identity{
		Name:           "Ana Silva",
		IdentityNumber: "11144477735",
		ContactAddress: "+5511999990000",
		Email:          strPtr("ana@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.True(t, res.Updated)
	assert.False(t, res.Created)
}

func TestRegistryUpsertRequiresIdentity(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Upsert(context.Background(), Identity{Name: "Ana", IdentityNumber: "111"})
	assert.Error(t, err)
	_, err = reg.Upsert(context.Background(), Identity{Name: "Ana", ContactAddress: "+55"})
	assert.Error(t, err)
}

func TestRegistryUpsertPropagatesStoreError(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)
	mock.ExpectQuery("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := reg.Upsert(context.Background(), Identity{Name: "Ana", IdentityNumber: "11144477735", ContactAddress: "+55"})
	assert.ErrorContains(t, err, "patients: upsert")
}

func TestRegistryFindByContactDecryptsAndDerives(t *testing.T) {
	reg, mock, codec := newTestRegistry(t)
	id := uuid.New()
	token, err := codec.Encrypt("11144477735")
	require.NoError(t, err)
	created := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	last := time.Date(2025, 2, 3, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE p.contact_address = $1")).
		WithArgs("+5511999990000").
		WillReturnRows(pgxmock.NewRows(patientColumns).AddRow(
			id, "Ana Silva", token, strPtr(codec.Fingerprint("11144477735")), "+5511999990000", (*string)(nil),
			created, created, &last, int64(3),
		))

	p, err := reg.FindByContact(context.Background(), " +5511999990000 ")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "11144477735", p.IdentityNumber)
	assert.Equal(t, 3, p.AppointmentCount)
	require.NotNil(t, p.LastCompletedAt)
	assert.True(t, last.Equal(*p.LastCompletedAt))
	assert.True(t, p.SameIdentity("111.444.777-35"))
	assert.False(t, p.SameIdentity("52998224725"))
}

func TestRegistryFindByContactAbsent(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)
	mock.ExpectQuery("FROM patients p").
		WithArgs("+5511000000000").
		WillReturnRows(pgxmock.NewRows(patientColumns))

	p, err := reg.FindByContact(context.Background(), "+5511000000000")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRegistryFindByIdentityNumberUsesFingerprint(t *testing.T) {
	reg, mock, codec := newTestRegistry(t)
	id := uuid.New()
	token, err := codec.Encrypt("11144477735")
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE p.identity_fingerprint = $1")).
		WithArgs(codec.Fingerprint("11144477735")).
		WillReturnRows(pgxmock.NewRows(patientColumns).AddRow(
			id, "Ana Silva", token, strPtr(codec.Fingerprint("11144477735")), "+5511999990000", (*string)(nil),
			now, now, (*time.Time)(nil), int64(0),
		))

	p, err := reg.FindByIdentityNumber(context.Background(), "111.444.777-35")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, id, p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryFindByIdentityNumberScansLegacyRows(t *testing.T) {
	reg, mock, codec := newTestRegistry(t)
	legacyID := uuid.New()
	otherToken, err := codec.Encrypt("52998224725")
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE p.identity_fingerprint = ").
		WithArgs(codec.Fingerprint("11144477735")).
		WillReturnRows(pgxmock.NewRows(patientColumns))
	mock.ExpectQuery("WHERE p.identity_fingerprint IS NULL").
		WillReturnRows(pgxmock.NewRows(patientColumns).
			AddRow(uuid.New(), "Outro", otherToken, (*string)(nil), "+5511888880000", (*string)(nil), now, now, (*time.Time)(nil), int64(0)).
			AddRow(uuid.New(), "Quebrado", "zz:zz", (*string)(nil), "+5511777770000", (*string)(nil), now, now, (*time.Time)(nil), int64(0)).
			AddRow(legacyID, "Ana Silva", "111.444.777-35", (*string)(nil), "+5511999990000", (*string)(nil), now, now, (*time.Time)(nil), int64(1)))

	p, err := reg.FindByIdentityNumber(context.Background(), "11144477735")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, legacyID, p.ID)
	assert.Equal(t, "111.444.777-35", p.IdentityNumber)
}

func TestRegistryFindByIdentityNumberMiss(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)
	mock.ExpectQuery("WHERE p.identity_fingerprint = ").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(patientColumns))
	mock.ExpectQuery("WHERE p.identity_fingerprint IS NULL").
		WillReturnRows(pgxmock.NewRows(patientColumns))

	p, err := reg.FindByIdentityNumber(context.Background(), "11144477735")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = reg.FindByIdentityNumber(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRegistryMigrateLegacy(t *testing.T) {
	reg, mock, codec := newTestRegistry(t)
	plainID, tokenID := uuid.New(), uuid.New()
	token, err := codec.Encrypt("52998224725")
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE p.identity_fingerprint IS NULL").
		WillReturnRows(pgxmock.NewRows(patientColumns).
			AddRow(plainID, "Ana", "111.444.777-35", (*string)(nil), "+5511999990000", (*string)(nil), now, now, (*time.Time)(nil), int64(0)).
			AddRow(tokenID, "Bia", token, (*string)(nil), "+5511888880000", (*string)(nil), now, now, (*time.Time)(nil), int64(0)))
	mock.ExpectExec("UPDATE patients SET identity_number").
		WithArgs(pgxmock.AnyArg(), codec.Fingerprint("11144477735"), plainID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE patients SET identity_number").
		WithArgs(token, codec.Fingerprint("52998224725"), tokenID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := reg.MigrateLegacy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistryMigrateLegacyMissingRow(t *testing.T) {
	reg, mock, _ := newTestRegistry(t)
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE p.identity_fingerprint IS NULL").
		WillReturnRows(pgxmock.NewRows(patientColumns).
			AddRow(uuid.New(), "Ana", "11144477735", (*string)(nil), "+55", (*string)(nil), now, now, (*time.Time)(nil), int64(0)))
	mock.ExpectExec("UPDATE patients SET identity_number").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := reg.MigrateLegacy(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, n)
}
