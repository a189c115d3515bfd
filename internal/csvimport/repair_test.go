package csvimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairNumericFields(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"long digits", "Widget,12345678901,10.00", "Widget,'12345678901,10.00"},
		{"scientific", "Thing,1.23E+11,4.00", "Thing,'1.23E+11,4.00"},
		{"ten digits untouched", "Widget,1234567890,10.00", "Widget,1234567890,10.00"},
		{"lowercase exponent untouched", "Thing,1.23e+11,4.00", "Thing,1.23e+11,4.00"},
		{"adjacent fields", "A,12345678901,98765432109,1", "A,'12345678901,'98765432109,1"},
		{"line start not bounded", "12345678901,Widget,1", "12345678901,Widget,1"},
		{"line end not bounded", "Widget,1,12345678901", "Widget,1,12345678901"},
		{"multi line", "a,12345678901,1\nb,2.5E+12,2", "a,'12345678901,1\nb,'2.5E+12,2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RepairNumericFields(tc.in))
		})
	}
}

func TestRepairNumericFieldsIsIdempotent(t *testing.T) {
	inputs := []string{
		"Product Name,UPC,Sold Price\nWidget,12345678901,10.00\nThing,1.23E+11,4\n",
		"A,12345678901,98765432109,11111111111,1",
		"x,'12345678901,y",
	}
	for _, in := range inputs {
		once := RepairNumericFields(in)
		assert.Equal(t, once, RepairNumericFields(once), in)
	}
}

func TestUnmark(t *testing.T) {
	assert.Equal(t, "12345678901", unmark("'12345678901"))
	assert.Equal(t, "1.23E+11", unmark("'1.23E+11"))
	assert.Equal(t, "'90s Jacket", unmark("'90s Jacket"))
	assert.Equal(t, "'123", unmark("'123"))
	assert.Equal(t, "plain", unmark("plain"))
}
