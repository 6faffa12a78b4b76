package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlags_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		flags *Flags
		flag  string
		want  bool
	}{
		{"set true", New(map[string]bool{FlagDurableRegistry: true}), FlagDurableRegistry, true},
		{"set false", New(map[string]bool{FlagRegistryCache: false}), FlagRegistryCache, false},
		{"absent", New(map[string]bool{FlagDurableRegistry: true}), FlagRedisNotify, false},
		{"nil flags", nil, FlagDurableRegistry, false},
		{"nil map", New(nil), FlagDurableRegistry, false},
		{"unknown name still readable", New(map[string]bool{"experimental": true}), "experimental", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.flags.Enabled(tt.flag))
		})
	}
}

func TestNew_CopiesInput(t *testing.T) {
	in := map[string]bool{FlagRedisNotify: true}
	f := New(in)
	in[FlagRedisNotify] = false
	in[FlagRegistryCache] = true

	require.True(t, f.Enabled(FlagRedisNotify))
	require.False(t, f.Enabled(FlagRegistryCache))
}

func TestFlags_AllReturnsCopy(t *testing.T) {
	f := New(map[string]bool{FlagDurableRegistry: true})

	all := f.All()
	all[FlagDurableRegistry] = false
	require.True(t, f.Enabled(FlagDurableRegistry))

	var nilFlags *Flags
	require.Equal(t, map[string]bool{}, nilFlags.All())
}
