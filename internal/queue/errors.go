package queue

import "errors"

var (
	// ErrEmpty is returned by Dequeue when no task is available.
	ErrEmpty = errors.New("queue empty")

	// ErrTaskNotFound is returned when a task id does not exist.
	ErrTaskNotFound = errors.New("task not found")

	// ErrPayloadTooLarge is returned when a payload exceeds the size limit.
	ErrPayloadTooLarge = errors.New("task payload too large")

	// ErrUnknownQueue is returned for an empty or unregistered queue name.
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrDeadLetterNotFound is returned when a dead letter id does not exist.
	ErrDeadLetterNotFound = errors.New("dead letter not found")
)
