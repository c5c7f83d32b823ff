package ioi

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismaiel54/ioi-session-client/internal/event"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func callSpread(goodUntil time.Time) IOI {
	expiry := time.Date(2017, 11, 8, 0, 0, 0, 0, time.UTC)
	return IOI{
		GoodUntil: goodUntil,
		Instrument: Instrument{Option: &Option{
			Structure: "CallSpread",
			Legs: []Leg{
				{Type: "Call", Strike: decimal.NewFromInt(230), Expiry: expiry, Style: "European", Ratio: decimal.NewFromInt(1), Exchange: "LN", Underlying: "VOD LN Equity"},
				{Type: "Call", Strike: decimal.NewFromInt(240), Expiry: expiry, Style: "European", Ratio: decimal.RequireFromString("-1.25"), Exchange: "LN", Underlying: "VOD LN Equity"},
			},
		}},
		Bid: &Quote{
			Price:          Price{Fixed: dec("83.643")},
			Quantity:       2000,
			ReferencePrice: &ReferencePrice{Price: decimal.RequireFromString("202.155"), Currency: "GBP"},
			Notes:          "bid notes",
		},
		Offer: &Quote{
			Price:      Price{Fixed: dec("83.64")},
			Quantity:   2000,
			Qualifiers: []string{"Natural", "AtMarket"},
		},
		Targets: &Targets{Includes: []Target{{Acronym: "BLPA"}, {Acronym: "BLPB"}}},
	}
}

func TestNewCreateRequest(t *testing.T) {
	goodUntil := time.Date(2017, 11, 7, 15, 0, 0, 0, time.UTC)
	req, err := NewCreateRequest(callSpread(goodUntil))
	require.NoError(t, err)
	assert.Equal(t, OpCreate, req.Name())

	ioi, ok := req.Child("ioi")
	require.True(t, ok)
	require.NoError(t, CheckPayload(ioi))

	got, err := ioi.GetTime("goodUntil")
	require.NoError(t, err)
	assert.True(t, goodUntil.Equal(got))

	option := ioi.Element("instrument").Choice()
	require.NotNil(t, option)
	assert.Equal(t, "option", option.Name())
	legs, ok := option.Child("legs")
	require.True(t, ok)
	require.Equal(t, 2, legs.Len())
	ratio, err := legs.Items()[1].GetFloat("ratio")
	require.NoError(t, err)
	assert.Equal(t, -1.25, ratio)

	underlying, ok := legs.Items()[0].Path("underlying", "ticker")
	require.True(t, ok)
	ticker, _ := underlying.AsString()
	assert.Equal(t, "VOD LN Equity", ticker)

	price, ok := ioi.Path("bid", "price", "fixed", "price")
	require.True(t, ok)
	p, _ := price.AsFloat()
	assert.Equal(t, 83.643, p)

	includes, ok := ioi.Path("targets", "includes")
	require.True(t, ok)
	require.Equal(t, 2, includes.Len())
	assert.Equal(t, "acronym", includes.Items()[1].Choice().Name())
	assert.False(t, ioi.Element("targets").Has("excludes"))
}

func TestValidate(t *testing.T) {
	base := func() IOI { return callSpread(time.Now().Add(15 * time.Minute)) }

	tests := []struct {
		name   string
		mutate func(*IOI)
	}{
		{"missing goodUntil", func(i *IOI) { i.GoodUntil = time.Time{} }},
		{"no instrument", func(i *IOI) { i.Instrument = Instrument{} }},
		{"both instruments", func(i *IOI) { i.Instrument.Stock = &Stock{Ticker: "VOD LN Equity"} }},
		{"too many legs", func(i *IOI) {
			leg := i.Instrument.Option.Legs[0]
			i.Instrument.Option.Legs = []Leg{leg, leg, leg, leg, leg}
		}},
		{"bad leg type", func(i *IOI) { i.Instrument.Option.Legs[0].Type = "Straddle" }},
		{"no sides", func(i *IOI) { i.Bid, i.Offer = nil, nil }},
		{"two prices", func(i *IOI) { i.Bid.Price.Pegged = &Pegged{OffsetFrom: "Mid"} }},
		{"zero quantity", func(i *IOI) { i.Offer.Quantity = 0 }},
		{"too many qualifiers", func(i *IOI) { i.Offer.Qualifiers = []string{"a", "b", "c", "d", "e", "f"} }},
		{"ambiguous target", func(i *IOI) { i.Targets.Excludes = []Target{{Acronym: "X", UUID: 5}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			tt.mutate(&in)
			err := in.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}

	assert.NoError(t, base().Validate())
}

func TestCommandBuild(t *testing.T) {
	in := callSpread(time.Now().Add(time.Hour))

	upd, err := Command{Operation: OpUpdate, Handle: "5f20228a-bef6-41bb-81eb-6abe0b21a00e", IOI: &in}.Build()
	require.NoError(t, err)
	h, ok := HandleOf(upd)
	require.True(t, ok)
	assert.Equal(t, "5f20228a-bef6-41bb-81eb-6abe0b21a00e", h)
	assert.True(t, upd.Has("ioi"))

	cancel, err := Command{Operation: OpCancel, Handle: "c877ff82"}.Build()
	require.NoError(t, err)
	assert.False(t, cancel.Has("ioi"))

	_, err = Command{Operation: OpCancel}.Build()
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Command{Operation: OpCreate}.Build()
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = Command{Operation: "amendIoi"}.Build()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestHandleFrom(t *testing.T) {
	msg := event.NewMessage("handle", 1)
	msg.Root().Set("value", "485caead-184f-45b6-bee7-c8999822d34a")
	h, err := HandleFrom(msg)
	require.NoError(t, err)
	assert.Equal(t, "485caead-184f-45b6-bee7-c8999822d34a", h)

	_, err = HandleFrom(event.NewMessage("ErrorInfo", 1))
	assert.Error(t, err)
	_, err = HandleFrom(event.NewMessage("handle", 1))
	assert.Error(t, err)
}

func TestUpdateMessageDecode(t *testing.T) {
	goodUntil := time.Date(2017, 11, 7, 15, 0, 0, 0, time.UTC)
	sent := goodUntil.Add(-time.Minute)
	req, err := NewCreateRequest(callSpread(goodUntil))
	require.NoError(t, err)
	ioiElem, _ := req.Child("ioi")

	msg := NewUpdateMessage("h-1", ioiElem, ChangeNew, sent, 1, 2)
	assert.Equal(t, []event.CorrelationID{1, 2}, msg.CorrelationIDs)

	u, err := DecodeUpdate(msg)
	require.NoError(t, err)

	assert.Equal(t, "h-1", u.Handle)
	assert.Equal(t, ChangeNew, u.Change)
	assert.True(t, sent.Equal(u.SentTime))
	assert.True(t, goodUntil.Equal(u.GoodUntil))
	assert.Equal(t, "option", u.InstrumentType)
	assert.Equal(t, "CallSpread", u.Structure)

	legs := u.ActiveLegs()
	require.Len(t, legs, 2)
	assert.Equal(t, 230.0, legs[0].Strike)
	assert.Equal(t, -1.25, legs[1].Ratio)
	assert.Equal(t, "ticker", legs[1].UnderlyingType)
	assert.Equal(t, "VOD LN Equity", legs[1].UnderlyingTicker)
	assert.Equal(t, time.Date(2017, 11, 8, 0, 0, 0, 0, time.UTC), legs[0].Expiry)

	assert.True(t, u.Bid.Present())
	assert.Equal(t, "fixed", u.Bid.PriceType)
	assert.Equal(t, 83.643, u.Bid.FixedPrice)
	assert.Equal(t, "quantity", u.Bid.SizeType)
	assert.Equal(t, int64(2000), u.Bid.Quantity)
	assert.Equal(t, 202.155, u.Bid.ReferencePrice)
	assert.Equal(t, "GBP", u.Bid.ReferenceCurrency)
	assert.Equal(t, "bid notes", u.Bid.Notes)

	assert.Equal(t, int64(2), u.Offer.QualifiersCount)
	assert.Equal(t, [MaxQualifiers]string{"Natural", "AtMarket"}, u.Offer.Qualifiers)

	_, err = DecodeUpdate(event.NewMessage("handle"))
	assert.Error(t, err)
}

func TestStockUpdate(t *testing.T) {
	in := IOI{
		GoodUntil:  time.Now().Add(time.Hour).UTC(),
		Instrument: Instrument{Stock: &Stock{Ticker: "VOD LN Equity"}},
		Bid: &Quote{
			Price:    Price{Pegged: &Pegged{OffsetAmount: decimal.RequireFromString("0.5"), OffsetFrom: "Mid", LimitPrice: dec("230")}},
			Quantity: 1000,
		},
	}
	req, err := NewCreateRequest(in)
	require.NoError(t, err)
	ioiElem, _ := req.Child("ioi")

	u, err := DecodeUpdate(NewUpdateMessage("h-2", ioiElem, ChangeSnapshot, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "stock", u.InstrumentType)
	assert.Equal(t, "VOD LN Equity", u.StockTicker)
	assert.Empty(t, u.ActiveLegs())
	assert.Equal(t, "pegged", u.Bid.PriceType)
	assert.Equal(t, 0.5, u.Bid.PeggedOffsetAmount)
	assert.Equal(t, "Mid", u.Bid.PeggedOffsetFrom)
	assert.Equal(t, 230.0, u.Bid.PeggedLimitPrice)
	assert.False(t, u.Offer.Present())
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "//blp-test/ioisub-beta/ioi", Topic(DefaultSubscriptionService))
}
