package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Value
	}{
		{
			name:     "null",
			input:    `null`,
			expected: Null(),
		},
		{
			name:     "bool",
			input:    `true`,
			expected: Bool(true),
		},
		{
			name:     "integer stays int",
			input:    `42`,
			expected: Int(42),
		},
		{
			name:     "fractional number becomes float",
			input:    `42.5`,
			expected: Float(42.5),
		},
		{
			name:     "number with exponent becomes float",
			input:    `1e3`,
			expected: Float(1000),
		},
		{
			name:     "integer-valued fraction stays float",
			input:    `1.0`,
			expected: Float(1),
		},
		{
			name:     "integer overflowing int64 becomes float",
			input:    `92233720368547758080`,
			expected: Float(92233720368547758080),
		},
		{
			name:     "string",
			input:    `"hello"`,
			expected: String("hello"),
		},
		{
			name:     "list",
			input:    `[1, "x", true, null]`,
			expected: List(Int(1), String("x"), Bool(true), Null()),
		},
		{
			name:  "nested map normalizes at depth",
			input: `{"a": {"b": [1, "x", true, null]}}`,
			expected: Map(map[string]Value{
				"a": Map(map[string]Value{
					"b": List(Int(1), String("x"), Bool(true), Null()),
				}),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue([]byte(tt.input))
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "expected %v kind %s", got, got.Kind())
		})
	}
}

func TestDecodeValueRejectsGarbage(t *testing.T) {
	_, err := DecodeValue([]byte(`{not json`))
	require.Error(t, err)
}

func TestValueOf(t *testing.T) {
	t.Run("passes values through unchanged", func(t *testing.T) {
		v := List(Int(1), Float(2.5))
		got, err := ValueOf(v)
		require.NoError(t, err)
		assert.True(t, v.Equal(got))
	})

	t.Run("converts structs through their JSON form", func(t *testing.T) {
		payload := struct {
			ID    string `json:"Id"`
			Count int    `json:"Count"`
		}{ID: "E1", Count: 3}

		got, err := ValueOf(payload)
		require.NoError(t, err)

		expected := Map(map[string]Value{
			"Id":    String("E1"),
			"Count": Int(3),
		})
		assert.True(t, expected.Equal(got))
	})

	t.Run("converts plain maps with native scalars", func(t *testing.T) {
		got, err := ValueOf(map[string]any{
			"Name":   "Foo",
			"Points": 10,
			"Rate":   0.5,
		})
		require.NoError(t, err)

		expected := Map(map[string]Value{
			"Name":   String("Foo"),
			"Points": Int(10),
			"Rate":   Float(0.5),
		})
		assert.True(t, expected.Equal(got))
	})

	t.Run("nil becomes null", func(t *testing.T) {
		got, err := ValueOf(nil)
		require.NoError(t, err)
		assert.True(t, got.IsNull())
	})

	t.Run("rejects unmarshalable input", func(t *testing.T) {
		_, err := ValueOf(make(chan int))
		require.Error(t, err)
	})
}

func TestValueMarshalRoundTrip(t *testing.T) {
	original := Map(map[string]Value{
		"id":     String("E1"),
		"count":  Int(7),
		"rate":   Float(0.25),
		"active": Bool(true),
		"gone":   Null(),
		"tags":   List(String("a"), String("b")),
	})

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded))
}

func TestValueMarshalForms(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{name: "null", value: Null(), expected: `null`},
		{name: "zero value is null", value: Value{}, expected: `null`},
		{name: "int", value: Int(-3), expected: `-3`},
		{name: "float", value: Float(2.5), expected: `2.5`},
		{name: "string escapes", value: String(`a"b`), expected: `"a\"b"`},
		{name: "empty list", value: List(), expected: `[]`},
		{name: "empty map", value: Map(nil), expected: `{}`},
		{
			name:     "map keys sorted",
			value:    Map(map[string]Value{"b": Int(2), "a": Int(1)}),
			expected: `{"a":1,"b":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestValueField(t *testing.T) {
	v := Map(map[string]Value{"EmployeeId": String("E1")})

	field, ok := v.Field("EmployeeId")
	require.True(t, ok)
	text, ok := field.Text()
	require.True(t, ok)
	assert.Equal(t, "E1", text)

	_, ok = v.Field("missing")
	assert.False(t, ok)

	_, ok = String("not a map").Field("EmployeeId")
	assert.False(t, ok)
}

func TestValueText(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected string
		ok       bool
	}{
		{name: "string", value: String("E1"), expected: "E1", ok: true},
		{name: "int", value: Int(42), expected: "42", ok: true},
		{name: "float", value: Float(2.5), expected: "2.5", ok: true},
		{name: "bool", value: Bool(true), expected: "true", ok: true},
		{name: "null", value: Null(), ok: false},
		{name: "list", value: List(Int(1)), ok: false},
		{name: "map", value: Map(nil), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.value.Text()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestValueEqualDistinguishesIntFromFloat(t *testing.T) {
	assert.False(t, Int(1).Equal(Float(1)))
	assert.True(t, Int(1).Equal(Int(1)))
	assert.True(t, Float(1).Equal(Float(1)))
}
