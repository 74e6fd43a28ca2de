package queue

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrItemNotFound is returned when a dead letter item does not exist
	ErrItemNotFound = errors.New("item not found")

	// ErrMaxRetriesExceeded is returned by workers once an item is dead-lettered
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
