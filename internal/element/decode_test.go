package element

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLeg struct {
	Strike float64 `elem:"strike"`
	Type   string  `elem:"type"`
}

type testQuote struct {
	PriceType  string    `elem:"price_type"`
	Price      float64   `elem:"price_fixed_price"`
	Quantity   int64     `elem:"size_quantity"`
	Qualifiers [2]string `elem:"qualifiers"`
}

type testRecord struct {
	Kind      string     `elem:"ioi_instrument_type"`
	LegsCount int64      `elem:"ioi_instrument_option_legs_count"`
	Legs      [2]testLeg `elem:"ioi_instrument_option_legs"`
	Bid       testQuote  `elem:"ioi_bid"`
	Change    string     `elem:"change,default=Unknown"`
	Ignored   string
}

func TestFlattenThenDecode(t *testing.T) {
	ioi := New("ioi")
	option := ioi.Element("instrument").SetChoice("option")
	legs := option.Element("legs")
	legs.Append().Set("strike", 230).Set("type", "Call")
	legs.Append().Set("strike", 240.5).Set("type", "Put")

	bid := ioi.Element("bid")
	bid.Element("price").SetChoice("fixed").Set("price", 83.63)
	bid.Element("size").SetChoice("quantity").SetValue(1000)
	bid.Element("qualifiers").AppendValue("AtMarket")

	flat := Flatten(ioi, "ioi")

	qty, err := flat.GetInt("ioi_bid_size_quantity")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), qty)

	kind, err := flat.GetString("ioi_instrument_type")
	require.NoError(t, err)
	assert.Equal(t, "option", kind)

	var rec testRecord
	require.NoError(t, Decode(flat, &rec))

	assert.Equal(t, "option", rec.Kind)
	assert.Equal(t, int64(2), rec.LegsCount)
	assert.Equal(t, testLeg{Strike: 230, Type: "Call"}, rec.Legs[0])
	assert.Equal(t, testLeg{Strike: 240.5, Type: "Put"}, rec.Legs[1])
	assert.Equal(t, "fixed", rec.Bid.PriceType)
	assert.Equal(t, 83.63, rec.Bid.Price)
	assert.Equal(t, int64(1000), rec.Bid.Quantity)
	assert.Equal(t, [2]string{"AtMarket", ""}, rec.Bid.Qualifiers)
	assert.Equal(t, "Unknown", rec.Change, "missing field takes its default")
}

func TestDecode_TypeMismatch(t *testing.T) {
	flat := New("Ioidata").Set("ioi_bid_size_quantity", "lots")

	var rec testRecord
	err := Decode(flat, &rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ioi_bid_size_quantity")
}

func TestDecode_RejectsNonPointer(t *testing.T) {
	assert.Error(t, Decode(New("x"), testRecord{}))
	assert.Error(t, Decode(New("x"), (*testRecord)(nil)))
}

func TestSchema(t *testing.T) {
	fields, err := Schema(testRecord{})
	require.NoError(t, err)

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"ioi_instrument_type",
		"ioi_instrument_option_legs_count",
		"ioi_instrument_option_legs_0_strike",
		"ioi_instrument_option_legs_0_type",
		"ioi_instrument_option_legs_1_strike",
		"ioi_instrument_option_legs_1_type",
		"ioi_bid_price_type",
		"ioi_bid_price_fixed_price",
		"ioi_bid_size_quantity",
		"ioi_bid_qualifiers_0",
		"ioi_bid_qualifiers_1",
		"change",
	}, names)
	assert.Equal(t, reflect.Float64, fields[2].Kind)
	assert.Equal(t, "Unknown", fields[len(fields)-1].Default)
}
