package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *Catalog {
	return New([]Service{
		{Key: "f1", Name: "my files", Kind: KindLocalFileDomain},
		{Key: "f2", Name: "cold storage", Kind: KindLocalFileDomain},
		{Key: "t1", Name: "my tags", Kind: KindTagService},
		{Key: "r1", Name: "favourites", Kind: KindLikeDislike},
		{Key: "r2", Name: "stars", Kind: KindNumerical, MaxStars: 5},
	})
}

func TestResolve(t *testing.T) {
	c := testCatalog()

	s, err := c.Resolve("r2")
	require.NoError(t, err)
	assert.Equal(t, "stars", s.Name)
	assert.Equal(t, 5, s.MaxStars)

	_, err = c.Resolve("nope")
	require.Error(t, err)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nope", nf.Key)
}

func TestLocalFileDomains(t *testing.T) {
	c := testCatalog()

	domains := c.LocalFileDomains()
	require.Len(t, domains, 2)
	// Key-ascending order is part of the contract.
	assert.Equal(t, "f1", domains[0].Key)
	assert.Equal(t, "f2", domains[1].Key)

	empty := New(nil)
	assert.NotNil(t, empty.LocalFileDomains())
	assert.Empty(t, empty.LocalFileDomains())
}

func TestKindRateable(t *testing.T) {
	assert.True(t, KindLikeDislike.Rateable())
	assert.True(t, KindNumerical.Rateable())
	assert.True(t, KindIncDec.Rateable())
	assert.False(t, KindLocalFileDomain.Rateable())
	assert.False(t, KindTagService.Rateable())
}
