package element

import "strconv"

// Flatten collapses a nested tree into a single sequence of scalars whose
// names join the path with underscores. A choice contributes "<path>_type"
// naming the active alternative, and an array contributes "<path>_count"
// followed by "<path>_<index>" entries.
//
// Flattening ioi{bid{price{fixed{price: 1.5}}}} with prefix "ioi" yields
// ioi_bid_price_type = "fixed" and ioi_bid_price_fixed_price = 1.5.
func Flatten(e *Element, prefix string) *Element {
	out := New(e.name)
	flattenInto(out, e, prefix)
	return out
}

func flattenInto(out, e *Element, key string) {
	switch e.kind {
	case KindScalar:
		if key != "" {
			out.Set(key, e.value)
		}
	case KindSequence:
		for _, c := range e.children {
			flattenInto(out, c, joinKey(key, c.name))
		}
	case KindChoice:
		if c := e.Choice(); c != nil {
			out.Set(joinKey(key, "type"), c.name)
			flattenInto(out, c, joinKey(key, c.name))
		}
	case KindArray:
		out.Set(joinKey(key, "count"), int64(len(e.items)))
		for i, item := range e.items {
			flattenInto(out, item, joinKey(key, strconv.Itoa(i)))
		}
	}
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "_" + name
}
