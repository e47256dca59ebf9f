package changewatch

// ChangeKind classifies a delivered notification.
type ChangeKind int

const (
	// Modify means the resource, or something beneath it, changed.
	Modify ChangeKind = iota
	// Delete means the resource is gone. It is always the last callback.
	Delete
)

func (k ChangeKind) String() string {
	switch k {
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}
