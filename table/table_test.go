package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl := New("thing", "col1", "col2")
	tbl.Info[InfoKey{TagKey, "thing"}] = "1"
	tbl.Info[InfoKey{TagType, "col1"}] = TypeNum
	tbl.Info[InfoKey{TagType, "col2"}] = TypeNum
	tbl.AddRow("thing1", "1.00", "2.00")
	tbl.AddRow("thing2", "10.00", "20.00")

	encoded := tbl.Encode()
	got, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, tbl.Columns, got.Columns)
	assert.Equal(t, tbl.Info, got.Info)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestHeaderTextDeterministic(t *testing.T) {
	a := New("x", "y")
	a.Info[InfoKey{TagType, "y"}] = TypeNum
	b := a.Clone()

	assert.Equal(t, a.HeaderText(), b.HeaderText())

	c := New("x", "y")
	assert.NotEqual(t, a.HeaderText(), c.HeaderText())
}

func TestDropColumns(t *testing.T) {
	tbl := New(SeqCol, TimeCol, DurCol, "tom", "dick")
	tbl.AddRow("0", "100", "5", "1", "2")

	body := tbl.DropColumns(SeqCol, TimeCol, DurCol)
	assert.Equal(t, []string{"tom", "dick"}, body.Columns)
	assert.Equal(t, [][]string{{"1", "2"}}, body.Rows)
}

func TestEmptyBodyEncode(t *testing.T) {
	tbl := New("a", "b")
	enc := tbl.Encode()
	got, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns, got.Columns)
	assert.Empty(t, got.Rows)
}

func TestPrimaryKeyColumn(t *testing.T) {
	tbl := New("thing", "other")
	_, ok := tbl.PrimaryKeyColumn()
	assert.False(t, ok)

	tbl.Info[InfoKey{TagKey, "thing"}] = "1"
	col, ok := tbl.PrimaryKeyColumn()
	assert.True(t, ok)
	assert.Equal(t, "thing", col)
}
