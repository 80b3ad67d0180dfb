package tui

// LockItem is a lock row for the list view.
type LockItem struct {
	Scope     string
	ScopeKind string
	Mode      string
	OwnerID   string
	Recursive bool
	Inherited bool
}

// EventItem is an action event row for the feed view.
type EventItem struct {
	ContextID string
	Kind      string
	Summary   string
	Status    string
	Detail    string
	Timestamp string
}
