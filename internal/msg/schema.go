package msg

import (
	"github.com/ismaiel54/ioi-session-client/internal/ioi"
)

// Outcome statuses
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
	StatusFailed   = "FAILED"
)

// IOICommandMsg represents an IOI command message
type IOICommandMsg struct {
	CommandID    string   `json:"command_id"`
	Operation    string   `json:"operation"` // "create", "update" or "cancel"
	Handle       string   `json:"handle,omitempty"`
	IOI          *ioi.IOI `json:"ioi,omitempty"`
	TsUnixMillis int64    `json:"ts_unix_millis"`
}

// Command maps the message onto a typed IOI command.
func (m IOICommandMsg) Command() (ioi.Command, bool) {
	op, ok := operations[m.Operation]
	if !ok {
		return ioi.Command{}, false
	}
	return ioi.Command{Operation: op, Handle: m.Handle, IOI: m.IOI}, true
}

var operations = map[string]string{
	"create": ioi.OpCreate,
	"update": ioi.OpUpdate,
	"cancel": ioi.OpCancel,
}

// IOIOutcomeMsg represents the terminal outcome of one IOI command
type IOIOutcomeMsg struct {
	EventID      string `json:"event_id"`
	CommandID    string `json:"command_id"`
	Status       string `json:"status"` // "ACCEPTED", "REJECTED" or "FAILED"
	Handle       string `json:"handle,omitempty"`
	Reason       string `json:"reason"`
	TsUnixMillis int64  `json:"ts_unix_millis"`
}

// IOIQuoteMsg is one side of an IOIDataMsg
type IOIQuoteMsg struct {
	PriceType      string   `json:"price_type"`
	Price          float64  `json:"price,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	OffsetAmount   float64  `json:"offset_amount,omitempty"`
	OffsetFrom     string   `json:"offset_from,omitempty"`
	SizeType       string   `json:"size_type,omitempty"`
	Quantity       int64    `json:"quantity,omitempty"`
	ReferencePrice float64  `json:"reference_price,omitempty"`
	Notes          string   `json:"notes,omitempty"`
	Qualifiers     []string `json:"qualifiers,omitempty"`
}

// IOIDataMsg represents one subscription update republished to Kafka
type IOIDataMsg struct {
	Handle              string       `json:"handle"`
	Change              string       `json:"change"`
	InstrumentType      string       `json:"instrument_type"`
	Ticker              string       `json:"ticker,omitempty"`
	Structure           string       `json:"structure,omitempty"`
	Legs                int64        `json:"legs,omitempty"`
	Bid                 *IOIQuoteMsg `json:"bid,omitempty"`
	Offer               *IOIQuoteMsg `json:"offer,omitempty"`
	GoodUntilUnixMillis int64        `json:"good_until_unix_millis,omitempty"`
	SentUnixMillis      int64        `json:"sent_unix_millis,omitempty"`
}

// NewDataMsg flattens a decoded update for publication
func NewDataMsg(u ioi.Update) IOIDataMsg {
	m := IOIDataMsg{
		Handle:         u.Handle,
		Change:         u.Change,
		InstrumentType: u.InstrumentType,
		Ticker:         u.StockTicker,
		Structure:      u.Structure,
		Legs:           u.LegsCount,
		Bid:            quoteMsg(u.Bid),
		Offer:          quoteMsg(u.Offer),
	}
	if !u.GoodUntil.IsZero() {
		m.GoodUntilUnixMillis = u.GoodUntil.UnixMilli()
	}
	if !u.SentTime.IsZero() {
		m.SentUnixMillis = u.SentTime.UnixMilli()
	}
	return m
}

func quoteMsg(q ioi.UpdateQuote) *IOIQuoteMsg {
	if !q.Present() {
		return nil
	}
	n := min(max(int(q.QualifiersCount), 0), len(q.Qualifiers))
	var quals []string
	if n > 0 {
		quals = append(quals, q.Qualifiers[:n]...)
	}
	return &IOIQuoteMsg{
		PriceType:      q.PriceType,
		Price:          q.FixedPrice,
		Currency:       q.FixedCurrency,
		OffsetAmount:   q.PeggedOffsetAmount,
		OffsetFrom:     q.PeggedOffsetFrom,
		SizeType:       q.SizeType,
		Quantity:       q.Quantity,
		ReferencePrice: q.ReferencePrice,
		Notes:          q.Notes,
		Qualifiers:     quals,
	}
}
