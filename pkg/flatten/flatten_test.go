package flatten

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<iati-activities version="2.03" generated-datetime="2026-01-01T00:00:00Z">
  <iati-activity default-currency="USD">
    <iati-identifier>  ABC-123
    </iati-identifier>
    <activity-date type="2" iso-date="2020-01-01"/>
    <activity-date type="3" iso-date="2021-06-15"/>
    <transaction>
      <transaction-type code="1"/>
      <value currency="EUR">100</value>
    </transaction>
    <transaction>
      <transaction-type code="2"/>
      <value>200</value>
    </transaction>
  </iati-activity>
</iati-activities>`

func TestFlattenPromotesRepeatsAndAppliesCurrencyDefault(t *testing.T) {
	activities, err := Flatten([]byte(sampleXML), map[string]bool{"transaction": true})
	require.NoError(t, err)
	require.Len(t, activities, 1)

	a := activities[0]
	assert.Equal(t, "2.03", a["dataset_version"])
	assert.Equal(t, "ABC-123", a["iati_identifier"])

	dates, ok := a["activity_date_iso_date"].([]any)
	require.True(t, ok, "expected repeated activity-date to promote to a list")
	assert.Len(t, dates, 2)

	sub, ok := a["@transaction"].([]any)
	require.True(t, ok)
	require.Len(t, sub, 2)
	second := sub[1].(map[string]any)
	assert.Equal(t, "USD", second["value_currency"])
}

func TestFlattenRejectsNonIATIActivitiesRoot(t *testing.T) {
	_, err := Flatten([]byte(`<not-iati/>`), nil)
	assert.ErrorIs(t, err, ErrNotIATIActivities)
}
