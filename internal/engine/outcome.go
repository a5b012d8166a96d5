package engine

// Outcome is the result of InsertMessage.
type Outcome int

const (
	// Inserted means the message was stored. Its effect may still have been
	// a silent no-op (ownership gates).
	Inserted Outcome = iota + 1

	// AlreadyExisted means the hash was already stored; nothing changed.
	AlreadyExisted

	// Dropped means the message could not be routed and was not stored.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExisted:
		return "already_existed"
	case Dropped:
		return "dropped"
	}
	return "unknown"
}
