package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySecondInstallIsNoop(t *testing.T) {
	var reg Registry
	src := &fakeSource{}

	first, installed, err := reg.Install(src, DefaultConfig())
	require.NoError(t, err)
	require.True(t, installed)
	defer first.Close()

	cfg := DefaultConfig()
	cfg.MaxKeyboardDelay = 500
	second, installed, err := reg.Install(&fakeSource{}, cfg)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Same(t, first, second)
	assert.Equal(t, 75, second.Config().MaxKeyboardDelay)
	assert.Same(t, first, reg.Active())
}

func TestRegistryNoopSkipsValidation(t *testing.T) {
	var reg Registry
	first, _, err := reg.Install(&fakeSource{}, DefaultConfig())
	require.NoError(t, err)
	defer first.Close()

	bad := DefaultConfig()
	bad.MaxKeyboardDelay = 1
	got, installed, err := reg.Install(&fakeSource{}, bad)
	assert.NoError(t, err)
	assert.False(t, installed)
	assert.Same(t, first, got)
}

func TestRegistryInvalidConfigInstallsNothing(t *testing.T) {
	var reg Registry
	src := &fakeSource{}

	cfg := DefaultConfig()
	cfg.MinLength = nil
	d, installed, err := reg.Install(src, cfg)

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Nil(t, d)
	assert.False(t, installed)
	assert.Nil(t, reg.Active())
	assert.Nil(t, src.handler, "no subscription on failure")
}

func TestRegistryCloseFreesSlot(t *testing.T) {
	var reg Registry
	src := &fakeSource{}

	first, _, err := reg.Install(src, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, src.handler)

	first.Close()
	assert.Nil(t, reg.Active())
	assert.Nil(t, src.handler)

	second, installed, err := reg.Install(src, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, installed)
	assert.NotSame(t, first, second)
	second.Close()
}

func TestRegistriesAreIndependent(t *testing.T) {
	var a, b Registry

	da, okA, err := a.Install(&fakeSource{}, DefaultConfig())
	require.NoError(t, err)
	db, okB, err := b.Install(&fakeSource{}, DefaultConfig())
	require.NoError(t, err)

	assert.True(t, okA)
	assert.True(t, okB)
	assert.NotSame(t, da, db)
	da.Close()
	db.Close()
}

func TestAttachReplacesSource(t *testing.T) {
	det, err := New(DefaultConfig())
	require.NoError(t, err)
	defer det.Close()

	first, second := &fakeSource{}, &fakeSource{}
	require.NoError(t, det.Attach(first))
	require.NoError(t, det.Attach(second))

	assert.Nil(t, first.handler)
	assert.NotNil(t, second.handler)
}
