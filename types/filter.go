package types

// Filter is a subscription query telling a relay which events to stream.
// Zero-valued fields are omitted from the wire form.
type Filter struct {
	IDs     []string   `json:"ids,omitempty"`
	Kinds   []int      `json:"kinds,omitempty"`
	Authors []string   `json:"authors,omitempty"`
	Since   *Timestamp `json:"since,omitempty"`
	Until   *Timestamp `json:"until,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// TextNoteFilter returns the {kinds:[1]} filter used for the live post feed.
func TextNoteFilter() Filter {
	return Filter{Kinds: []int{KindTextNote}}
}

// Matches reports whether the event satisfies the filter. Relays are
// expected to apply filters server-side; this is a client-side guard
// against misbehaving relays.
func (f Filter) Matches(ev Event) bool {
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, ev.Pubkey) {
		return false
	}
	if len(f.IDs) > 0 && !containsString(f.IDs, ev.ID) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
