package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Get(t *testing.T) {
	catalog := DefaultCatalog()

	solo, err := catalog.Get(PlanSolo)
	require.NoError(t, err)
	assert.Equal(t, int64(50), solo.MaxUploadsPerMonth)
	assert.True(t, solo.CanUpload)

	family, err := catalog.Get(PlanFamily)
	require.NoError(t, err)
	assert.Equal(t, int64(200), family.MaxUploadsPerMonth)
	assert.Equal(t, 4, family.MaxSeats)
	assert.True(t, family.CanUseEmailInbound)
}

func TestCatalog_UnknownPlanFailsLoudly(t *testing.T) {
	catalog := DefaultCatalog()

	// A missing catalog entry must never silently default: that would
	// grant unlimited access for any plan id the catalog forgot.
	_, err := catalog.Get(PlanID("enterprise"))
	require.Error(t, err)
	assert.Equal(t, EINTERNAL, ErrorCode(err))
}

func TestCatalog_FreePlanIsReadOnly(t *testing.T) {
	catalog := DefaultCatalog()

	free, err := catalog.Get(catalog.ReadOnlyPlan())
	require.NoError(t, err)
	assert.False(t, free.CanUpload)
	assert.False(t, free.IsPaid())
	assert.True(t, Plan{ID: PlanSolo}.IsPaid())
}
