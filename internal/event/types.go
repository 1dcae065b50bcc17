package event

import "time"

// Event is implemented by payloads that carry a type name and an occurrence time.
type Event interface {
	Type() string
	Timestamp() time.Time
}
