package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected FormatVersion
		wantErr  bool
	}{
		{name: "dotted v4", input: "4.10", expected: V4_10},
		{name: "dotted v3", input: "3.30", expected: V3_30},
		{name: "undotted", input: "410", expected: V4_10},
		{name: "padded", input: "4.10    ", expected: V4_10},
		{name: "nul padded", input: "3.00\x00\x00", expected: V3_00},
		{name: "oldest", input: "2.00", expected: V2_00},
		{name: "unsupported", input: "5.00", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := ParseVersion(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, IsFormatError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestFormatVersionString(t *testing.T) {
	assert.Equal(t, "4.10", V4_10.String())
	assert.Equal(t, "3.00", V3_00.String())
	assert.Equal(t, "2.14", V2_14.String())
}

func TestFormatVersionComparisons(t *testing.T) {
	assert.True(t, V4_00.IsV4())
	assert.False(t, V3_30.IsV4())
	assert.True(t, V4_11.AtLeast(V4_00))
	assert.False(t, V3_20.AtLeast(V4_00))
	assert.Equal(t, 4, V4_20.Major())
	assert.Equal(t, 2, V2_10.Major())
}
