package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  Version
		expectErr bool
	}{
		{
			name:     "full version",
			input:    "2.1.3",
			expected: Version{Major: 2, Minor: 1, Patch: 3, Raw: "2.1.3"},
		},
		{
			name:     "major and minor only",
			input:    "2.1",
			expected: Version{Major: 2, Minor: 1, Raw: "2.1"},
		},
		{
			name:     "major only",
			input:    "3",
			expected: Version{Major: 3, Raw: "3"},
		},
		{
			name:     "pre-release",
			input:    "2.1.0-beta.1",
			expected: Version{Major: 2, Minor: 1, Pre: "beta.1", Raw: "2.1.0-beta.1"},
		},
		{
			name:     "build metadata",
			input:    "2.1.0+build.7",
			expected: Version{Major: 2, Minor: 1, Build: "build.7", Raw: "2.1.0+build.7"},
		},
		{
			name:     "pre-release and build",
			input:    "2.1.0-rc.2+linux",
			expected: Version{Major: 2, Minor: 1, Pre: "rc.2", Build: "linux", Raw: "2.1.0-rc.2+linux"},
		},
		{name: "empty", input: "", expectErr: true},
		{name: "non-numeric major", input: "v2.1.0", expectErr: true},
		{name: "non-numeric minor", input: "2.x.0", expectErr: true},
		{name: "non-numeric patch", input: "2.1.x", expectErr: true},
		{name: "too many components", input: "1.2.3.4", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVersion(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *v)
		})
	}
}

func TestVersion_String(t *testing.T) {
	t.Run("raw is echoed verbatim", func(t *testing.T) {
		v, err := ParseVersion("2.1")
		require.NoError(t, err)
		assert.Equal(t, "2.1", v.String())
	})

	t.Run("built from components", func(t *testing.T) {
		v := &Version{Major: 1, Minor: 2, Patch: 3, Pre: "beta.1", Build: "x86"}
		assert.Equal(t, "1.2.3-beta.1+x86", v.String())
	})
}

func TestVersion_Compare(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected int
	}{
		{name: "equal", a: "1.2.3", b: "1.2.3", expected: 0},
		{name: "major wins", a: "2.0.0", b: "1.9.9", expected: 1},
		{name: "minor wins", a: "1.3.0", b: "1.2.9", expected: 1},
		{name: "patch wins", a: "1.2.4", b: "1.2.3", expected: 1},
		{name: "missing components default to zero", a: "1.2", b: "1.2.0", expected: 0},
		{name: "pre-release sorts below release", a: "2.0.0-beta.1", b: "2.0.0", expected: -1},
		{name: "release sorts above pre-release", a: "2.0.0", b: "2.0.0-rc.1", expected: 1},
		{name: "pre-releases compared lexically", a: "2.0.0-alpha", b: "2.0.0-beta", expected: -1},
		{name: "build metadata ignored", a: "1.0.0+build.1", b: "1.0.0+build.2", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseVersion(tt.a)
			require.NoError(t, err)
			b, err := ParseVersion(tt.b)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, a.Compare(b))
			assert.Equal(t, -tt.expected, b.Compare(a))
		})
	}
}

func TestVersion_Predicates(t *testing.T) {
	older, err := ParseVersion("1.0.0")
	require.NoError(t, err)
	newer, err := ParseVersion("1.1.0")
	require.NoError(t, err)

	assert.True(t, newer.GreaterThan(older))
	assert.True(t, older.LessThan(newer))
	assert.True(t, newer.GreaterThanOrEqual(older))
	assert.True(t, newer.GreaterThanOrEqual(newer))
	assert.True(t, newer.Equal(newer))
	assert.False(t, newer.Equal(older))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 1, CompareVersions("2.0.0", "1.9.9"))
	assert.Equal(t, -1, CompareVersions("1.9.9", "2.0.0"))
	assert.Equal(t, 0, CompareVersions("1.2", "1.2.0"))

	// Non-semver inputs fall back to plain string comparison.
	assert.Equal(t, -1, CompareVersions("build-a", "build-b"))
	assert.Equal(t, 0, CompareVersions("snapshot", "snapshot"))
	assert.Equal(t, 1, CompareVersions("r2", "1.0.0"))
}
