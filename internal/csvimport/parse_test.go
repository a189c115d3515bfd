package csvimport

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func TestParseKeepsStringsAndLines(t *testing.T) {
	raw := " Product Name ,UPC,Sold Price,Quantity\n" +
		"Widget,12345678901,\"1,200.50\",5\n" +
		"\n" +
		" , , , \n" +
		"Gadget,555,3,\n"
	table, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"Product Name", "UPC", "Sold Price", "Quantity"}, table.Header)
	require.Len(t, table.Rows, 2)

	first := table.Rows[0]
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "Widget", first.Fields["Product Name"])
	assert.Equal(t, "'12345678901", first.Fields["UPC"])
	assert.Equal(t, "1,200.50", first.Fields["Sold Price"])

	second := table.Rows[1]
	assert.Equal(t, 5, second.Line)
	v, ok := second.Value("Quantity")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestParseShortRowsOmitMissingColumns(t *testing.T) {
	table, err := Parse(strings.NewReader("Product Name,UPC,Quantity\nWidget,123\n"))
	require.NoError(t, err)
	_, ok := table.Rows[0].Value("Quantity")
	assert.False(t, ok)
}

func TestParseStripsByteOrderMarks(t *testing.T) {
	src := "Product Name,UPC,Sold Price\nWidget,123,1\n"

	table, err := Parse(strings.NewReader("\ufeff" + src))
	require.NoError(t, err)
	assert.Equal(t, "Product Name", table.Header[0])

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(src)
	require.NoError(t, err)
	table, err = Parse(strings.NewReader(utf16))
	require.NoError(t, err)
	assert.Equal(t, "Product Name", table.Header[0])
	assert.Equal(t, "Widget", table.Rows[0].Fields["Product Name"])
}

func TestParseEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "Product Name,UPC\n", "Product Name,UPC\n\n,\n"} {
		_, err := Parse(strings.NewReader(raw))
		assert.ErrorIs(t, err, ErrEmptyCSV, "%q", raw)
	}
}

func TestParseReadFailure(t *testing.T) {
	_, err := Parse(iotest.ErrReader(errors.New("disk gone")))
	require.ErrorIs(t, err, ErrParseCSV)
	assert.Contains(t, err.Error(), "disk gone")
	assert.Equal(t, "Failed to parse CSV", InputMessage(err))
}
