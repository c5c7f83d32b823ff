package grpcwire

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
)

// Frame operations. Clients send everything except opEvent.
const (
	opStart       = "start"
	opOpen        = "open"
	opRequest     = "request"
	opAuthorize   = "authorize"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opClose       = "close"
	opEvent       = "event"
)

// Scalar type tags. Integers and times travel as strings so that int64
// values and nanoseconds survive the float64 number type of structpb.
const (
	typeNull   = "null"
	typeString = "string"
	typeInt    = "int"
	typeFloat  = "float"
	typeBool   = "bool"
	typeTime   = "time"
)

type fields map[string]*structpb.Value

func newFrame(op string, f fields) *structpb.Struct {
	if f == nil {
		f = fields{}
	}
	f["op"] = structpb.NewStringValue(op)
	return &structpb.Struct{Fields: f}
}

func frameOp(s *structpb.Struct) string {
	return getString(s, "op")
}

func getString(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func getList(s *structpb.Struct, key string) []*structpb.Value {
	return s.GetFields()[key].GetListValue().GetValues()
}

func listValue(vs []*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: vs})
}

func stringList(ss []string) *structpb.Value {
	vs := make([]*structpb.Value, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, structpb.NewStringValue(s))
	}
	return listValue(vs)
}

func stringsOf(vs []*structpb.Value) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.GetStringValue())
	}
	return out
}

func idList(ids []event.CorrelationID) *structpb.Value {
	vs := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		vs = append(vs, structpb.NewStringValue(id.String()))
	}
	return listValue(vs)
}

func idsOf(vs []*structpb.Value) ([]event.CorrelationID, error) {
	out := make([]event.CorrelationID, 0, len(vs))
	for _, v := range vs {
		id, err := parseID(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func parseID(s string) (event.CorrelationID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid correlation id %q: %w", s, err)
	}
	return event.CorrelationID(n), nil
}

// EncodeElement converts an element tree into a structpb value that keeps
// element kinds and scalar types.
func EncodeElement(e *element.Element) *structpb.Value {
	f := fields{
		"name": structpb.NewStringValue(e.Name()),
		"kind": structpb.NewStringValue(e.Kind().String()),
	}
	switch e.Kind() {
	case element.KindScalar:
		typ, v := encodeScalar(e.Value())
		f["type"] = structpb.NewStringValue(typ)
		f["value"] = v
	case element.KindSequence, element.KindChoice:
		children := e.Children()
		vs := make([]*structpb.Value, 0, len(children))
		for _, c := range children {
			vs = append(vs, EncodeElement(c))
		}
		f["children"] = listValue(vs)
	case element.KindArray:
		items := e.Items()
		vs := make([]*structpb.Value, 0, len(items))
		for _, item := range items {
			vs = append(vs, EncodeElement(item))
		}
		f["items"] = listValue(vs)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: f})
}

func encodeScalar(v any) (string, *structpb.Value) {
	switch x := v.(type) {
	case nil:
		return typeNull, structpb.NewNullValue()
	case string:
		return typeString, structpb.NewStringValue(x)
	case int64:
		return typeInt, structpb.NewStringValue(strconv.FormatInt(x, 10))
	case float64:
		return typeFloat, structpb.NewNumberValue(x)
	case bool:
		return typeBool, structpb.NewBoolValue(x)
	case time.Time:
		return typeTime, structpb.NewStringValue(x.Format(time.RFC3339Nano))
	default:
		return typeString, structpb.NewStringValue(fmt.Sprint(x))
	}
}

// DecodeElement is the inverse of EncodeElement.
func DecodeElement(v *structpb.Value) (*element.Element, error) {
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("element is not a struct")
	}
	e := element.New(getString(s, "name"))
	if err := decodeInto(e, s); err != nil {
		return nil, err
	}
	return e, nil
}

func decodeInto(e *element.Element, s *structpb.Struct) error {
	switch kind := getString(s, "kind"); kind {
	case "empty", "":
		return nil
	case "scalar":
		v, err := decodeScalar(getString(s, "type"), s.GetFields()["value"])
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", e.Name(), err)
		}
		e.SetValue(v)
	case "sequence":
		for _, c := range getList(s, "children") {
			cs := c.GetStructValue()
			if err := decodeInto(e.Element(getString(cs, "name")), cs); err != nil {
				return err
			}
		}
	case "choice":
		children := getList(s, "children")
		if len(children) != 1 {
			return fmt.Errorf("choice %s has %d alternatives", e.Name(), len(children))
		}
		cs := children[0].GetStructValue()
		return decodeInto(e.SetChoice(getString(cs, "name")), cs)
	case "array":
		for _, item := range getList(s, "items") {
			if err := decodeInto(e.Append(), item.GetStructValue()); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown element kind %q", kind)
	}
	return nil
}

func decodeScalar(typ string, v *structpb.Value) (any, error) {
	switch typ {
	case typeNull:
		return nil, nil
	case typeString:
		return v.GetStringValue(), nil
	case typeInt:
		return strconv.ParseInt(v.GetStringValue(), 10, 64)
	case typeFloat:
		return v.GetNumberValue(), nil
	case typeBool:
		return v.GetBoolValue(), nil
	case typeTime:
		return time.Parse(time.RFC3339Nano, v.GetStringValue())
	default:
		return nil, fmt.Errorf("unknown scalar type %q", typ)
	}
}

// EncodeEvent builds the server-to-client frame for ev.
func EncodeEvent(ev event.Event) *structpb.Struct {
	msgs := make([]*structpb.Value, 0, len(ev.Messages))
	for _, m := range ev.Messages {
		msgs = append(msgs, structpb.NewStructValue(&structpb.Struct{Fields: fields{
			"name":     structpb.NewStringValue(m.Name),
			"ids":      idList(m.CorrelationIDs),
			"elements": EncodeElement(m.Root()),
		}}))
	}
	return newFrame(opEvent, fields{
		"type":     structpb.NewStringValue(ev.Type.String()),
		"messages": listValue(msgs),
	})
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(s *structpb.Struct) (event.Event, error) {
	if op := frameOp(s); op != opEvent {
		return event.Event{}, fmt.Errorf("unexpected frame %q", op)
	}
	ev := event.Event{Type: event.ParseEventType(getString(s, "type"))}
	for _, v := range getList(s, "messages") {
		ms := v.GetStructValue()
		ids, err := idsOf(getList(ms, "ids"))
		if err != nil {
			return event.Event{}, err
		}
		m := event.NewMessage(getString(ms, "name"), ids...)
		if raw, ok := ms.GetFields()["elements"]; ok {
			root, err := DecodeElement(raw)
			if err != nil {
				return event.Event{}, fmt.Errorf("failed to decode %s: %w", m.Name, err)
			}
			m.Elements = root
		}
		ev.Messages = append(ev.Messages, m)
	}
	return ev, nil
}

func startFrame(ep event.Endpoint) *structpb.Struct {
	return newFrame(opStart, fields{
		"host": structpb.NewStringValue(ep.Host),
		"port": structpb.NewNumberValue(float64(ep.Port)),
	})
}

func endpointOf(s *structpb.Struct) event.Endpoint {
	return event.Endpoint{
		Host: getString(s, "host"),
		Port: int(s.GetFields()["port"].GetNumberValue()),
	}
}

func requestFrame(op string, req event.Request, id event.CorrelationID, identity *event.Identity) *structpb.Struct {
	f := fields{
		"service":   structpb.NewStringValue(req.Service),
		"operation": structpb.NewStringValue(req.Operation),
		"id":        structpb.NewStringValue(id.String()),
	}
	if identity != nil {
		f["identity"] = structpb.NewStringValue(identity.ID.String())
	}
	if req.Payload != nil {
		f["payload"] = EncodeElement(req.Payload)
	}
	return newFrame(op, f)
}

func requestOf(s *structpb.Struct) (event.Request, event.CorrelationID, error) {
	req := event.Request{
		Service:   getString(s, "service"),
		Operation: getString(s, "operation"),
	}
	id, err := parseID(getString(s, "id"))
	if err != nil {
		return req, 0, err
	}
	if raw, ok := s.GetFields()["payload"]; ok {
		payload, err := DecodeElement(raw)
		if err != nil {
			return req, id, fmt.Errorf("failed to decode payload: %w", err)
		}
		req.Payload = payload
	}
	return req, id, nil
}

func subscribeFrame(subs []event.SubscriptionRequest, identity *event.Identity) *structpb.Struct {
	vs := make([]*structpb.Value, 0, len(subs))
	for _, sub := range subs {
		vs = append(vs, structpb.NewStructValue(&structpb.Struct{Fields: fields{
			"topic":   structpb.NewStringValue(sub.Topic),
			"id":      structpb.NewStringValue(sub.CorrelationID.String()),
			"fields":  stringList(sub.Fields),
			"options": stringList(sub.Options),
		}}))
	}
	f := fields{"subscriptions": listValue(vs)}
	if identity != nil {
		f["identity"] = structpb.NewStringValue(identity.ID.String())
	}
	return newFrame(opSubscribe, f)
}

func subscriptionsOf(s *structpb.Struct) ([]event.SubscriptionRequest, error) {
	var out []event.SubscriptionRequest
	for _, v := range getList(s, "subscriptions") {
		ss := v.GetStructValue()
		id, err := parseID(getString(ss, "id"))
		if err != nil {
			return nil, err
		}
		out = append(out, event.SubscriptionRequest{
			Topic:         getString(ss, "topic"),
			CorrelationID: id,
			Fields:        stringsOf(getList(ss, "fields")),
			Options:       stringsOf(getList(ss, "options")),
		})
	}
	return out, nil
}

func identityID(s *structpb.Struct) (uuid.UUID, bool, error) {
	raw := getString(s, "identity")
	if raw == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid identity %q: %w", raw, err)
	}
	return id, true, nil
}

// reasonMessage builds a status message carrying reason.description the
// way the service reports failures.
func reasonMessage(name, description string, ids ...event.CorrelationID) event.Message {
	m := event.NewMessage(name, ids...)
	m.Root().Element("reason").Set("description", description).Set("source", "gateway")
	return m
}
