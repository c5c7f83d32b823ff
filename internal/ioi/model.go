package ioi

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ismaiel54/ioi-session-client/internal/element"
)

// Limits imposed by the subscription field layout.
const (
	MaxLegs       = 4
	MaxQualifiers = 5
)

// IOI is an indication of interest as submitted by createIoi and updateIoi
type IOI struct {
	GoodUntil  time.Time  `json:"good_until"`
	Instrument Instrument `json:"instrument"`
	Bid        *Quote     `json:"bid,omitempty"`
	Offer      *Quote     `json:"offer,omitempty"`
	Targets    *Targets   `json:"targets,omitempty"`
}

// Instrument holds exactly one of Stock or Option
type Instrument struct {
	Stock  *Stock  `json:"stock,omitempty"`
	Option *Option `json:"option,omitempty"`
}

type Stock struct {
	Ticker string `json:"ticker"`
}

// Option is a multi-leg option structure such as a CallSpread
type Option struct {
	Structure string `json:"structure"`
	Legs      []Leg  `json:"legs"`
}

type Leg struct {
	Type       string          `json:"type"` // "Call" or "Put"
	Strike     decimal.Decimal `json:"strike"`
	Expiry     time.Time       `json:"expiry"`
	Style      string          `json:"style"` // "European" or "American"
	Ratio      decimal.Decimal `json:"ratio"`
	Exchange   string          `json:"exchange"`
	Underlying string          `json:"underlying_ticker"`
}

// Quote is one side of an IOI
type Quote struct {
	Price          Price           `json:"price"`
	Quantity       int64           `json:"quantity"`
	ReferencePrice *ReferencePrice `json:"reference_price,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Qualifiers     []string        `json:"qualifiers,omitempty"`
}

// Price holds exactly one of Fixed or Pegged
type Price struct {
	Fixed         *decimal.Decimal `json:"fixed,omitempty"`
	FixedCurrency string           `json:"fixed_currency,omitempty"`
	Pegged        *Pegged          `json:"pegged,omitempty"`
}

type Pegged struct {
	OffsetAmount decimal.Decimal  `json:"offset_amount"`
	OffsetFrom   string           `json:"offset_from"`
	LimitPrice   *decimal.Decimal `json:"limit_price,omitempty"`
}

type ReferencePrice struct {
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

type Targets struct {
	Includes []Target `json:"includes,omitempty"`
	Excludes []Target `json:"excludes,omitempty"`
}

// Target selects a counterparty by exactly one of acronym, uuid or list id
type Target struct {
	Acronym string `json:"acronym,omitempty"`
	UUID    int64  `json:"uuid,omitempty"`
	ListID  string `json:"list_id,omitempty"`
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid ioi")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the structural rules the request service enforces.
func (i IOI) Validate() error {
	if i.GoodUntil.IsZero() {
		return invalid("goodUntil is required")
	}
	if err := i.Instrument.validate(); err != nil {
		return err
	}
	if i.Bid == nil && i.Offer == nil {
		return invalid("at least one of bid or offer is required")
	}
	for side, q := range map[string]*Quote{"bid": i.Bid, "offer": i.Offer} {
		if q == nil {
			continue
		}
		if err := q.validate(side); err != nil {
			return err
		}
	}
	if i.Targets != nil {
		for _, t := range append(append([]Target{}, i.Targets.Includes...), i.Targets.Excludes...) {
			if err := t.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in Instrument) validate() error {
	switch {
	case in.Stock != nil && in.Option != nil:
		return invalid("instrument must be either stock or option")
	case in.Stock != nil:
		if in.Stock.Ticker == "" {
			return invalid("stock ticker is required")
		}
	case in.Option != nil:
		if n := len(in.Option.Legs); n == 0 || n > MaxLegs {
			return invalid("option needs 1 to %d legs, got %d", MaxLegs, n)
		}
		for n, leg := range in.Option.Legs {
			if leg.Type != "Call" && leg.Type != "Put" {
				return invalid("leg %d type %q must be Call or Put", n, leg.Type)
			}
			if leg.Underlying == "" {
				return invalid("leg %d underlying ticker is required", n)
			}
		}
	default:
		return invalid("instrument is required")
	}
	return nil
}

func (q *Quote) validate(side string) error {
	if (q.Price.Fixed == nil) == (q.Price.Pegged == nil) {
		return invalid("%s price must be either fixed or pegged", side)
	}
	if q.Quantity <= 0 {
		return invalid("%s quantity must be positive", side)
	}
	if len(q.Qualifiers) > MaxQualifiers {
		return invalid("%s has %d qualifiers, at most %d allowed", side, len(q.Qualifiers), MaxQualifiers)
	}
	return nil
}

func (t Target) validate() error {
	set := 0
	if t.Acronym != "" {
		set++
	}
	if t.UUID != 0 {
		set++
	}
	if t.ListID != "" {
		set++
	}
	if set != 1 {
		return invalid("target must name exactly one of acronym, uuid or listId")
	}
	return nil
}

// fill writes the IOI into e using the request schema field names.
func (i IOI) fill(e *element.Element) {
	e.Set("goodUntil", i.GoodUntil)

	inst := e.Element("instrument")
	if i.Instrument.Stock != nil {
		inst.SetChoice("stock").Element("security").SetChoice("ticker").SetValue(i.Instrument.Stock.Ticker)
	}
	if opt := i.Instrument.Option; opt != nil {
		o := inst.SetChoice("option")
		o.Set("structure", opt.Structure)
		legs := o.Element("legs")
		for _, leg := range opt.Legs {
			l := legs.Append()
			l.Set("type", leg.Type).
				Set("strike", leg.Strike.InexactFloat64()).
				Set("expiry", leg.Expiry).
				Set("style", leg.Style).
				Set("ratio", leg.Ratio.InexactFloat64()).
				Set("exchange", leg.Exchange)
			l.Element("underlying").SetChoice("ticker").SetValue(leg.Underlying)
		}
	}

	if i.Bid != nil {
		i.Bid.fill(e.Element("bid"))
	}
	if i.Offer != nil {
		i.Offer.fill(e.Element("offer"))
	}

	if i.Targets != nil {
		t := e.Element("targets")
		fillTargets(t, "includes", i.Targets.Includes)
		fillTargets(t, "excludes", i.Targets.Excludes)
	}
}

func (q *Quote) fill(e *element.Element) {
	price := e.Element("price")
	if q.Price.Fixed != nil {
		fixed := price.SetChoice("fixed").Set("price", q.Price.Fixed.InexactFloat64())
		if q.Price.FixedCurrency != "" {
			fixed.Set("currency", q.Price.FixedCurrency)
		}
	}
	if p := q.Price.Pegged; p != nil {
		pegged := price.SetChoice("pegged").
			Set("offsetAmount", p.OffsetAmount.InexactFloat64()).
			Set("offsetFrom", p.OffsetFrom)
		if p.LimitPrice != nil {
			pegged.Set("limitPrice", p.LimitPrice.InexactFloat64())
		}
	}
	e.Element("size").SetChoice("quantity").SetValue(q.Quantity)
	if q.ReferencePrice != nil {
		e.Element("referencePrice").
			Set("price", q.ReferencePrice.Price.InexactFloat64()).
			Set("currency", q.ReferencePrice.Currency)
	}
	if q.Notes != "" {
		e.Set("notes", q.Notes)
	}
	if len(q.Qualifiers) > 0 {
		quals := e.Element("qualifiers")
		for _, v := range q.Qualifiers {
			quals.AppendValue(v)
		}
	}
}

func fillTargets(parent *element.Element, name string, targets []Target) {
	if len(targets) == 0 {
		return
	}
	list := parent.Element(name)
	for _, t := range targets {
		item := list.Append()
		switch {
		case t.Acronym != "":
			item.SetChoice("acronym").SetValue(t.Acronym)
		case t.UUID != 0:
			item.SetChoice("uuid").SetValue(t.UUID)
		default:
			item.SetChoice("listId").SetValue(t.ListID)
		}
	}
}
