package item

// Collection describes the source a multi-item resolution came from.
type Collection struct {
	ID    string // Playlist/album ID (optional)
	Title string // Playlist/album title (optional)
	URL   string // Playlist/album URL (optional)
}

// Name returns the collection title, falling back to its ID.
func (c Collection) Name() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// Resolution is the result of resolving one user argument.
// It is either a single item or a collection of items; callers flatten it with Items.
type Resolution struct {
	items      []Item
	collection *Collection
}

// Single creates a resolution holding one item.
func Single(i Item) Resolution {
	return Resolution{items: []Item{i}}
}

// Many creates a resolution holding the ordered entries of a collection.
func Many(c Collection, items []Item) Resolution {
	cp := make([]Item, len(items))
	copy(cp, items)
	return Resolution{items: cp, collection: &c}
}

// Items returns the flat ordered list of resolved items.
func (r Resolution) Items() []Item {
	cp := make([]Item, len(r.items))
	copy(cp, r.items)
	return cp
}

// Len returns the number of resolved items.
func (r Resolution) Len() int {
	return len(r.items)
}

// IsCollection reports whether the resolution should be presented as a collection.
// A collection with exactly one entry is presented as a single item.
func (r Resolution) IsCollection() bool {
	return r.collection != nil && len(r.items) != 1
}

// Collection returns the collection info, if any.
func (r Resolution) Collection() (Collection, bool) {
	if r.collection == nil {
		return Collection{}, false
	}
	return *r.collection, true
}

// First returns the first resolved item.
func (r Resolution) First() (Item, bool) {
	if len(r.items) == 0 {
		return Item{}, false
	}
	return r.items[0], true
}

// WithRequester returns a copy with every item attributed to req.
func (r Resolution) WithRequester(req Requester) Resolution {
	items := make([]Item, len(r.items))
	for i, it := range r.items {
		items[i] = it.WithRequester(req)
	}
	return Resolution{items: items, collection: r.collection}
}
