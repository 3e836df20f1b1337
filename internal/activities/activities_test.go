package activities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "2021", stringify("2021"))
	assert.Equal(t, "2021", stringify(2021.0), "integral floats render without a decimal point")
	assert.Equal(t, "2021.5", stringify(2021.5))
	assert.Equal(t, "30", stringify(30))
}

func TestArgFloat(t *testing.T) {
	f, ok := argFloat(1200000.5)
	assert.True(t, ok)
	assert.Equal(t, 1200000.5, f)

	f, ok = argFloat("3400000")
	assert.True(t, ok)
	assert.Equal(t, 3400000.0, f)

	_, ok = argFloat(nil)
	assert.False(t, ok)
	_, ok = argFloat("not a number")
	assert.False(t, ok)
}

func TestArgStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, argStrings(map[string]any{"k": []string{"a", "b"}}, "k"))
	assert.Equal(t, []string{"a", "b"}, argStrings(map[string]any{"k": []any{"a", "b", 3}}, "k"))
	assert.Nil(t, argStrings(map[string]any{}, "k"))
}
