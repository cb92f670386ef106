package refdata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuelkasper/sotlas-api/errors"
)

func TestStaticSummitLookup(t *testing.T) {
	static := NewStatic()
	static.Summits["HB/ZH-015"] = &Summit{
		Code:     "HB/ZH-015",
		Name:     "Uetliberg",
		Altitude: 869,
		Points:   1,
	}

	summit, err := static.Summit(context.Background(), "HB/ZH-015")
	require.NoError(t, err)
	assert.Equal(t, "Uetliberg", summit.Name)
	assert.Equal(t, 869, summit.Altitude)

	_, err = static.Summit(context.Background(), "HB/ZH-999")
	assert.True(t, errors.IsNotFound(err))
}

func TestStaticAssociationLookup(t *testing.T) {
	static := NewStatic()
	static.Associations["HB"] = &Association{Code: "HB", IsoCode: "CH", Continent: "EU"}

	assoc, err := static.Association(context.Background(), "HB")
	require.NoError(t, err)
	assert.Equal(t, "CH", assoc.IsoCode)

	_, err = static.Association(context.Background(), "ZZ")
	assert.True(t, errors.IsNotFound(err))
}

func TestStaticActivatorSet(t *testing.T) {
	static := NewStatic()
	static.Activators["HB9XYZ"] = true

	assert.True(t, static.IsActivator(context.Background(), "HB9XYZ"))
	assert.False(t, static.IsActivator(context.Background(), "DL1ABC"))
	assert.False(t, static.IsActivator(context.Background(), ""))
}
