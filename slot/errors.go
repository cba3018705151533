package slot

import (
	"errors"
	"fmt"

	"github.com/maxpert/slotkeeper/db"
)

var (
	// ErrNoSlotAvailable is returned by RequestSlot when the queue has no sealed,
	// unassigned slot. The open slot is never handed out.
	ErrNoSlotAvailable = errors.New("no slot available")

	// ErrNoOverlap is returned by DetectOverlap when none of the node's slots conflict.
	ErrNoOverlap = errors.New("no overlapped slot")

	ErrSlotNotFound  = errors.New("slot not found")
	ErrNotAssigned   = errors.New("slot is not assigned")
	ErrNotOverlapped = errors.New("slot is not overlapped")
)

// NotOwnerError is returned when a node releases a slot it does not hold.
type NotOwnerError struct {
	Slot   db.Slot
	Owner  string
	Caller string
}

func (e *NotOwnerError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("slot %s is not assigned, %s cannot release it", e.Slot, e.Caller)
	}
	return fmt.Sprintf("slot %s is held by %s, %s cannot release it", e.Slot, e.Owner, e.Caller)
}
