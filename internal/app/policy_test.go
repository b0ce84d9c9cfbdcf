package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("kick")
	require.NoError(t, err)
	assert.Equal(t, KickMember, p.OnBackPressure(nil, nil))

	p, err = NewPolicy("")
	require.NoError(t, err)
	assert.Equal(t, KickMember, p.OnBackPressure(nil, nil))

	p, err = NewPolicy("drop")
	require.NoError(t, err)
	assert.Equal(t, NoAction, p.OnBackPressure(nil, nil))

	_, err = NewPolicy("slow")
	assert.Error(t, err)
}
