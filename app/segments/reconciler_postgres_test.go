package segments

import (
	"testing"

	"github.com/amirphl/company-segments/app/filters"
	"github.com/amirphl/company-segments/models"
	testutil "github.com/amirphl/company-segments/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipReconcilerPostgres(t *testing.T) {
	if !testutil.PostgresAvailable() {
		t.Skip("TEST_DB_HOST not set")
	}

	tdb, err := testutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { tdb.TeardownTestDB() })

	env := newReconcilerEnvOn(tdb.DB, filters.DialectPostgres)

	acmeCorp, err := env.fixtures.CreateCompany("Acme Corp", testutil.WithRevenue(900000))
	require.NoError(t, err)
	acmeLabs, err := env.fixtures.CreateCompany("Acme Labs", testutil.WithRevenue(20))
	require.NoError(t, err)
	globex, err := env.fixtures.CreateCompany("Globex", testutil.WithRevenue(700000))
	require.NoError(t, err)

	acme, err := env.fixtures.CreateSegment("acme", true, models.FilterNode{
		Field:    "companyname",
		Object:   models.FilterObjectCompany,
		Operator: models.OpRegexp,
		Value:    models.ScalarValue("^Acme"),
		Glue:     models.FilterGlueAnd,
	})
	require.NoError(t, err)

	richOutsiders, err := env.fixtures.CreateSegment("rich-outsiders", true,
		testutil.RevenueAtLeast("100000"),
		testutil.MemberOf(models.OpNotIn, acme.ID),
	)
	require.NoError(t, err)

	res := env.reconcile(t, acme)
	assert.Equal(t, int64(2), res.Added)
	assert.ElementsMatch(t, []int64{acmeCorp.ID, acmeLabs.ID}, env.active(t, acme.ID))

	res = env.reconcile(t, richOutsiders)
	assert.Equal(t, int64(1), res.Added)
	assert.Equal(t, []int64{globex.ID}, env.active(t, richOutsiders.ID))

	// a manual tombstone in acme makes Acme Corp an outsider
	require.NoError(t, env.fixtures.DB.Model(&models.SegmentMember{}).
		Where("segment_id = ? AND company_id = ?", acme.ID, acmeCorp.ID).
		Updates(map[string]any{"manually_removed": true}).Error)

	res = env.reconcile(t, richOutsiders)
	assert.Equal(t, int64(1), res.Added)
	assert.ElementsMatch(t, []int64{acmeCorp.ID, globex.ID}, env.active(t, richOutsiders.ID))
}
