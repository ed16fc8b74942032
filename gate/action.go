package gate

// Action describes the kind of operation a user wants to perform.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"

	// ActionTransition covers workflow steps that move a contract forward
	// (approve, paperwork, payment creation, completion).
	ActionTransition Action = "transition"
	ActionCancel     Action = "cancel"
	ActionVoid       Action = "void"
	// ActionDecide releases a held security deposit.
	ActionDecide Action = "decide"
)

// IsRead reports whether the action only needs read access to a resource.
func (a Action) IsRead() bool {
	return a == ActionView || a == ActionList
}
