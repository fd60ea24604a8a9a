package migrations_test

import (
	"testing"

	"github.com/VdotR/polling-system/migrations"
	"github.com/VdotR/polling-system/models"
	"github.com/VdotR/polling-system/shortid"
	"github.com/VdotR/polling-system/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func load(t *testing.T, db *gorm.DB, id string) models.Poll {
	t.Helper()
	var p models.Poll
	require.NoError(t, db.First(&p, "id = ?", id).Error)
	return p
}

func TestEnsureShortIDInvariant(t *testing.T) {
	db := testutil.SetupTestDB(t)
	owner := uuid.NewString()

	// Open without a code.
	missing := models.NewPoll("a?", []string{"x"}, nil, owner)
	require.NoError(t, db.Create(missing).Error)
	require.NoError(t, db.Model(&models.Poll{}).Where("id = ?", missing.ID).UpdateColumn("available", true).Error)

	// Closed but still holding a code.
	stale := models.NewPoll("b?", []string{"x"}, nil, owner)
	stale.Available = true
	require.NoError(t, db.Create(stale).Error)
	require.NotNil(t, stale.ShortID)
	require.NoError(t, db.Model(&models.Poll{}).Where("id = ?", stale.ID).UpdateColumn("available", false).Error)

	// Already consistent.
	healthy := models.NewPoll("c?", []string{"x"}, nil, owner)
	healthy.Available = true
	require.NoError(t, db.Create(healthy).Error)
	code := *healthy.ShortID

	require.NoError(t, migrations.EnsureShortIDInvariant(db))

	fixed := load(t, db, missing.ID)
	assert.True(t, fixed.Available)
	require.NotNil(t, fixed.ShortID)
	assert.True(t, shortid.Valid(*fixed.ShortID))

	cleared := load(t, db, stale.ID)
	assert.False(t, cleared.Available)
	assert.Nil(t, cleared.ShortID)

	untouched := load(t, db, healthy.ID)
	require.NotNil(t, untouched.ShortID)
	assert.Equal(t, code, *untouched.ShortID)
}

func TestEnsureShortIDInvariant_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	p := models.NewPoll("a?", []string{"x"}, nil, uuid.NewString())
	p.Available = true
	require.NoError(t, db.Create(p).Error)

	require.NoError(t, migrations.EnsureShortIDInvariant(db))
	require.NoError(t, migrations.EnsureShortIDInvariant(db))

	assert.Equal(t, *p.ShortID, *load(t, db, p.ID).ShortID)
}
