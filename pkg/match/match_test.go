package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestField(t *testing.T) {
	tests := []struct {
		name  string
		field Field[int]
		in    int
		want  bool
	}{
		{"zero is wildcard", Field[int]{}, 42, true},
		{"any", Any[int](), -1, true},
		{"eq hit", Eq(3), 3, true},
		{"eq miss", Eq(3), 4, false},
		{"where hit", Where(func(v int) bool { return v > 10 }), 11, true},
		{"where miss", Where(func(v int) bool { return v > 10 }), 10, false},
		{"nil where", Where[int](nil), 7, true},
		{"one of hit", OneOf(1, 2, 3), 2, true},
		{"one of miss", OneOf(1, 2, 3), 5, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.field.Match(tc.in))
		})
	}
}

func TestFieldIntrospection(t *testing.T) {
	assert.True(t, Any[string]().IsAny())
	assert.False(t, Eq("x").IsAny())

	v, ok := Eq("x").Value()
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = Where(func(string) bool { return true }).Value()
	assert.False(t, ok)

	assert.Equal(t, "*", Any[int]().String())
	assert.Equal(t, "=5", Eq(5).String())
}
