package ioi

import (
	"fmt"
	"time"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// Change kinds reported in the change field of an update
const (
	ChangeNew      = "New"
	ChangeUpdated  = "Updated"
	ChangeCanceled = "Canceled"
	ChangeSnapshot = "Snapshot"
)

// UpdateLeg is one option leg of a subscription update
type UpdateLeg struct {
	Type             string    `elem:"type"`
	Strike           float64   `elem:"strike"`
	Expiry           time.Time `elem:"expiry"`
	Style            string    `elem:"style"`
	Ratio            float64   `elem:"ratio"`
	Exchange         string    `elem:"exchange"`
	UnderlyingType   string    `elem:"underlying_type"`
	UnderlyingTicker string    `elem:"underlying_ticker"`
	UnderlyingFIGI   string    `elem:"underlying_figi"`
	FutureRefDate    time.Time `elem:"futureRefDate"`
	Delta            float64   `elem:"delta"`
}

// UpdateQuote is the bid or offer side of a subscription update
type UpdateQuote struct {
	PriceType          string  `elem:"price_type"`
	FixedPrice         float64 `elem:"price_fixed_price"`
	FixedCurrency      string  `elem:"price_fixed_currency"`
	PeggedOffsetAmount float64 `elem:"price_pegged_offsetAmount"`
	PeggedOffsetFrom   string  `elem:"price_pegged_offsetFrom"`
	PeggedLimitPrice   float64 `elem:"price_pegged_limitPrice"`
	PriceReference     string  `elem:"price_reference"`
	Moneyness          float64 `elem:"price_moneyness"`

	SizeType    string `elem:"size_type"`
	Quantity    int64  `elem:"size_quantity"`
	SizeQuality string `elem:"size_quality"`

	ReferencePrice    float64 `elem:"referencePrice_price"`
	ReferenceCurrency string  `elem:"referencePrice_currency"`
	Volatility        float64 `elem:"volatility"`
	Notes             string  `elem:"notes"`

	QualifiersCount int64                 `elem:"qualifiers_count"`
	Qualifiers      [MaxQualifiers]string `elem:"qualifiers"`
}

// Present reports whether the side was populated.
func (q UpdateQuote) Present() bool {
	return q.PriceType != "" || q.SizeType != ""
}

// Update is a decoded Ioidata message
type Update struct {
	Handle string `elem:"ioi_handle"`

	InstrumentType string             `elem:"ioi_instrument_type"`
	LegsCount      int64              `elem:"ioi_instrument_option_legs_count"`
	Legs           [MaxLegs]UpdateLeg `elem:"ioi_instrument_option_legs"`
	Structure      string             `elem:"ioi_instrument_option_structure"`
	StockTicker    string             `elem:"ioi_instrument_stock_security_ticker"`
	StockFIGI      string             `elem:"ioi_instrument_stock_security_figi"`

	GoodUntil time.Time   `elem:"ioi_goodUntil"`
	Bid       UpdateQuote `elem:"ioi_bid"`
	Offer     UpdateQuote `elem:"ioi_offer"`

	RoutingStrategyName     string `elem:"ioi_routing_strategy_name"`
	RoutingStrategyBrief    string `elem:"ioi_routing_strategy_brief"`
	RoutingStrategyDetailed string `elem:"ioi_routing_strategy_detailed"`
	RoutingCustomID         string `elem:"ioi_routing_customId"`
	RoutingBroker           string `elem:"ioi_routing_broker"`

	SentTime time.Time `elem:"ioi_sentTime"`
	Change   string    `elem:"change"`
}

// ActiveLegs returns the populated legs.
func (u Update) ActiveLegs() []UpdateLeg {
	n := int(u.LegsCount)
	if n > MaxLegs {
		n = MaxLegs
	}
	if n < 0 {
		n = 0
	}
	return u.Legs[:n]
}

// DecodeUpdate decodes an Ioidata message.
func DecodeUpdate(msg event.Message) (Update, error) {
	if msg.Type != event.IOIData {
		return Update{}, fmt.Errorf("expected Ioidata message, got %s", msg.Name)
	}
	var u Update
	if err := element.Decode(msg.Root(), &u); err != nil {
		return Update{}, fmt.Errorf("failed to decode ioi update: %w", err)
	}
	return u, nil
}

// NewUpdateMessage flattens an ioi element into an Ioidata message. The
// simulated service uses it to publish book changes.
func NewUpdateMessage(handle string, ioi *element.Element, change string, sent time.Time, ids ...event.CorrelationID) event.Message {
	msg := event.NewMessage(event.IOIData.String(), ids...)
	root := msg.Root()
	if ioi != nil {
		for _, c := range element.Flatten(ioi, "ioi").Children() {
			root.Set(c.Name(), c.Value())
		}
	}
	root.Set("ioi_handle", handle)
	root.Set("ioi_sentTime", sent)
	root.Set("change", change)
	return msg
}
