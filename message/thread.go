package message

// ThreadKind distinguishes the two conversation kinds.
type ThreadKind uint8

const (
	// KindPrivate is a two-participant conversation.
	KindPrivate ThreadKind = iota
	// KindCommunity is an n-participant conversation.
	KindCommunity
)

// String returns the wire name for the thread kind.
func (k ThreadKind) String() string {
	if k == KindCommunity {
		return "community"
	}
	return "private"
}

// Thread is a conversation container. It owns an ordered message log
// (held by the reconciliation engine) and a cursor for paginated history.
type Thread struct {
	ID      string     `json:"id"`
	Kind    ThreadKind `json:"-"`
	Members []string   `json:"members"`
	Cursor  string     `json:"cursor,omitempty"`
}

// Others returns the thread members excluding selfID.
func (t *Thread) Others(selfID string) []string {
	others := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		if m != selfID {
			others = append(others, m)
		}
	}
	return others
}
