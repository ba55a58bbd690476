package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("brave-otter"))
	assert.True(t, ValidName("a"))
	assert.False(t, ValidName("Brave-Otter"))
	assert.False(t, ValidName("-leading-dash"))
	assert.False(t, ValidName("1starts-with-digit"))
}

func TestAllocateNameUniqueUnderCollisionPressure(t *testing.T) {
	r := New(20000, 20010)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		name, err := r.AllocateName()
		require.NoError(t, err)
		assert.False(t, seen[name], "name %q reused", name)
		seen[name] = true
		r.Register(Entry{Name: name, Port: 20000 + i%10})
	}
}

func TestAllocatePortSkipsTaken(t *testing.T) {
	r := New(21000, 21002)
	p1, err := r.AllocatePort()
	require.NoError(t, err)
	r.Register(Entry{Name: "n1", Port: p1})

	p2, err := r.AllocatePort()
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestAllocatePortExhaustion(t *testing.T) {
	r := New(21100, 21100)
	p, err := r.AllocatePort()
	require.NoError(t, err)
	r.Register(Entry{Name: "only", Port: p})

	_, err = r.AllocatePort()
	assert.ErrorIs(t, err, ErrPortsExhausted)
}

func TestListSortedByName(t *testing.T) {
	r := New(22000, 22010)
	r.Register(Entry{Name: "zebra", Port: 22000})
	r.Register(Entry{Name: "apple", Port: 22001})
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "apple", list[0].Name)
	assert.Equal(t, "zebra", list[1].Name)
}
