package types

// Post is a displayed feed entry. Posts are immutable once created; they are
// only ever inserted into the feed, never updated in place.
type Post struct {
	Content      string `json:"content"`
	AuthorPubKey string `json:"pubkey"`
}

// PostFromEvent projects a wire-level event onto the feed entry it carries.
func PostFromEvent(ev Event) Post {
	return Post{
		Content:      ev.Content,
		AuthorPubKey: ev.Pubkey,
	}
}

// Key returns the deduplication key: two posts with the same author and the
// same text are the same post, regardless of the event IDs that carried
// them. The pubkey is fixed-length hex, so the concatenation is unambiguous.
func (p Post) Key() string {
	return p.AuthorPubKey + "/" + p.Content
}
