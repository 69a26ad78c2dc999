package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscriptionMultipleEntries(t *testing.T) {
	entries, err := parseSubscription("M17-XOR_AB,M17-DEV_C")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "M17-XOR", entries[0].designator)
	assert.Equal(t, []byte{'A', 'B'}, entries[0].modules)
	assert.Equal(t, "M17-DEV", entries[1].designator)
	assert.Equal(t, []byte{'C'}, entries[1].modules)
}

func TestParseSubscriptionEmptyIsFatal(t *testing.T) {
	_, err := parseSubscription("")
	assert.Error(t, err)
}

func TestParseSubscriptionMalformedEntryIsFatal(t *testing.T) {
	_, err := parseSubscription("M17-XOR")
	assert.Error(t, err)

	_, err = parseSubscription("M17-XOR_")
	assert.Error(t, err)

	_, err = parseSubscription("_AB")
	assert.Error(t, err)
}

func TestParseSubscriptionSkipsBlankItems(t *testing.T) {
	entries, err := parseSubscription("M17-XOR_A, ,M17-DEV_B")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestParseSubscriptionNormalizesToUppercase(t *testing.T) {
	entries, err := parseSubscription("m17-xor_ab")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "M17-XOR", entries[0].designator)
	assert.Equal(t, []byte{'A', 'B'}, entries[0].modules)
}
