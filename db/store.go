package db

import (
	"context"
	"fmt"
	"time"
)

// SlotState is the persisted lifecycle state of a slot.
type SlotState int

const (
	// SlotUnassigned covers both freshly sealed and returned slots.
	SlotUnassigned SlotState = 1
	SlotAssigned   SlotState = 2
	SlotOverlapped SlotState = 3
	// SlotDeleted is never stored; it is reported once a slot row is gone.
	SlotDeleted SlotState = 4
)

func (s SlotState) String() string {
	switch s {
	case SlotUnassigned:
		return "UNASSIGNED"
	case SlotAssigned:
		return "ASSIGNED"
	case SlotOverlapped:
		return "OVERLAPPED"
	case SlotDeleted:
		return "DELETED"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Slot is an inclusive range of message ids within one storage queue.
type Slot struct {
	StartMessageID int64     `json:"start_message_id"`
	EndMessageID   int64     `json:"end_message_id"`
	StorageQueue   string    `json:"storage_queue"`
	AssignedNodeID string    `json:"assigned_node_id,omitempty"`
	State          SlotState `json:"state"`
	Overlapped     bool      `json:"overlapped"`
}

// Contains reports whether id falls inside the slot range.
func (s Slot) Contains(id int64) bool {
	return id >= s.StartMessageID && id <= s.EndMessageID
}

// Overlaps reports whether two slots of the same queue share at least one id.
func (s Slot) Overlaps(o Slot) bool {
	return s.StorageQueue == o.StorageQueue &&
		s.StartMessageID <= o.EndMessageID &&
		o.StartMessageID <= s.EndMessageID
}

func (s Slot) String() string {
	return fmt.Sprintf("%s[%d,%d]", s.StorageQueue, s.StartMessageID, s.EndMessageID)
}

// CoordinatorEntry is the singleton coordinator row.
type CoordinatorEntry struct {
	NodeID        string
	Address       string
	LastHeartbeat time.Time
}

// NodeHeartbeat is the liveness row of one cluster node.
type NodeHeartbeat struct {
	NodeID        string    `json:"node_id"`
	Address       string    `json:"address"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	IsNewNode     bool      `json:"is_new_node"`
}

// MembershipEventType identifies a membership change.
type MembershipEventType int

const (
	MemberAdded        MembershipEventType = 1
	MemberRemoved      MembershipEventType = 2
	CoordinatorChanged MembershipEventType = 3
)

func (t MembershipEventType) String() string {
	switch t {
	case MemberAdded:
		return "MEMBER_ADDED"
	case MemberRemoved:
		return "MEMBER_REMOVED"
	case CoordinatorChanged:
		return "COORDINATOR_CHANGED"
	default:
		return fmt.Sprintf("MembershipEventType(%d)", int(t))
	}
}

// MembershipEvent is one mailbox row addressed to DestinationNodeID.
type MembershipEvent struct {
	ID                int64
	DestinationNodeID string
	Type              MembershipEventType
	Member            string
}

// ClusterNotification is a generic state-change mailbox row.
type ClusterNotification struct {
	ID                int64
	DestinationNodeID string
	OriginatedNodeID  string
	Artifact          string
	Type              string
	Payload           string
	Description       string
}

// SlotStore persists slots, watermarks and delivered-id tracking.
type SlotStore interface {
	// Slots
	CreateSlot(ctx context.Context, slot Slot) error
	// DeleteSlot removes a non-overlapped slot. It returns true when the slot
	// no longer exists afterwards.
	DeleteSlot(ctx context.Context, queue string, start, end int64) (bool, error)
	DeleteSlotsByQueueName(ctx context.Context, queue string) error
	GetSlot(ctx context.Context, queue string, start, end int64) (*Slot, error)
	// GetUnAssignedSlot returns the unassigned slot with the lowest start, or nil.
	GetUnAssignedSlot(ctx context.Context, queue string) (*Slot, error)
	// UpdateSlotAssignment moves an UNASSIGNED slot to ASSIGNED for nodeID.
	UpdateSlotAssignment(ctx context.Context, nodeID, queue string, start, end int64) (bool, error)
	DeleteSlotAssignmentByQueueName(ctx context.Context, nodeID, queue string) error
	// ReassignSlot moves an ASSIGNED slot back to UNASSIGNED and clears its node.
	ReassignSlot(ctx context.Context, queue string, start, end int64) (bool, error)
	SetSlotState(ctx context.Context, queue string, start, end int64, state SlotState) error
	GetOverlappedSlot(ctx context.Context, nodeID, queue string) (*Slot, error)
	UpdateOverlappedSlots(ctx context.Context, nodeID, queue string, slots []Slot) error
	DeleteOverlappedSlots(ctx context.Context, nodeID string) error
	GetAssignedSlotsByNodeID(ctx context.Context, nodeID string) ([]Slot, error)
	GetAllSlotsByQueueName(ctx context.Context, queue string) ([]Slot, error)
	GetAllQueues(ctx context.Context) ([]string, error)
	GetAllQueuesInSubmittedSlots(ctx context.Context) ([]string, error)
	ClearSlotStorage(ctx context.Context) error

	// Watermarks
	GetQueueToLastAssignedID(ctx context.Context, queue string) (int64, error)
	// LockQueueWatermark reads the last assigned id and locks it for the
	// rest of the enclosing transaction.
	LockQueueWatermark(ctx context.Context, queue string) (int64, error)
	SetQueueToLastAssignedID(ctx context.Context, queue string, messageID int64) error
	GetNodeToLastPublishedID(ctx context.Context, nodeID string) (int64, error)
	SetNodeToLastPublishedID(ctx context.Context, nodeID string, messageID int64) error
	GetMessagePublishedNodes(ctx context.Context) ([]string, error)
	RemovePublisherNode(ctx context.Context, nodeID string) error

	// Delivered ids
	// AddMessageID returns false when messageID was already recorded.
	AddMessageID(ctx context.Context, queue string, messageID int64) (bool, error)
	GetMessageIDs(ctx context.Context, queue string) ([]int64, error)
	DeleteMessageID(ctx context.Context, queue string, messageID int64) error
	DeleteMessageIDsByQueueName(ctx context.Context, queue string) error
	DeleteMessageIDsInRange(ctx context.Context, queue string, start, end int64) error
}

// CounterStore persists per-queue message counts.
type CounterStore interface {
	AddMessageCounterForQueue(ctx context.Context, queue string) error
	GetMessageCountForQueue(ctx context.Context, queue string) (int64, error)
	GetAllMessageCounts(ctx context.Context) (map[string]int64, error)
	ResetMessageCounterForQueue(ctx context.Context, queue string) error
	RemoveMessageCounterForQueue(ctx context.Context, queue string) error
	IncrementMessageCountForQueue(ctx context.Context, queue string, by int64) error
	DecrementMessageCountForQueue(ctx context.Context, queue string, by int64) error
	// IncrementMessageCounts applies every increment in one transaction.
	IncrementMessageCounts(ctx context.Context, counts map[string]int64) error
}

// CoordinationStore persists the coordinator row and node heartbeats.
type CoordinationStore interface {
	// CreateCoordinatorEntry returns false when another node already holds the row.
	CreateCoordinatorEntry(ctx context.Context, nodeID, address string) (bool, error)
	CheckIsCoordinator(ctx context.Context, nodeID string) (bool, error)
	UpdateCoordinatorHeartbeat(ctx context.Context, nodeID string) (bool, error)
	// CheckIfCoordinatorValid reports whether now - lastHeartbeat <= maxAge.
	CheckIfCoordinatorValid(ctx context.Context, maxAge time.Duration) (bool, error)
	GetCoordinator(ctx context.Context) (*CoordinatorEntry, error)
	GetCoordinatorNodeID(ctx context.Context) (string, error)
	GetCoordinatorAddress(ctx context.Context) (string, error)
	RemoveCoordinator(ctx context.Context) error
	// RemoveStaleCoordinator deletes the row only if it is older than maxAge.
	RemoveStaleCoordinator(ctx context.Context, maxAge time.Duration) (bool, error)

	CreateNodeHeartbeatEntry(ctx context.Context, nodeID, address string) error
	UpdateNodeHeartbeat(ctx context.Context, nodeID string) (bool, error)
	GetAllHeartBeatData(ctx context.Context) ([]NodeHeartbeat, error)
	RemoveNodeHeartbeat(ctx context.Context, nodeID string) error
	MarkNodeAsNotNew(ctx context.Context, nodeID string) error
	ClearHeartBeatData(ctx context.Context) error

	// AcquireIDPrefix returns the message id prefix held by nodeID, claiming
	// the lowest free one below limit if it holds none.
	AcquireIDPrefix(ctx context.Context, nodeID string, limit int) (int, error)
	ReleaseIDPrefix(ctx context.Context, nodeID string) error
}

// MailboxStore persists per-destination membership and notification rows.
type MailboxStore interface {
	StoreMembershipEvent(ctx context.Context, nodes []string, eventType MembershipEventType, member string) error
	// ReadMembershipEvents returns and deletes every event queued for nodeID.
	ReadMembershipEvents(ctx context.Context, nodeID string) ([]MembershipEvent, error)
	PeekMembershipEvents(ctx context.Context, nodeID string, limit int) ([]MembershipEvent, error)
	AckMembershipEvents(ctx context.Context, nodeID string, ids []int64) error
	ClearMembershipEvents(ctx context.Context) error
	ClearMembershipEventsForNode(ctx context.Context, nodeID string) error

	StoreClusterNotification(ctx context.Context, nodes []string, n ClusterNotification) error
	// ReadClusterNotifications returns and deletes every notification queued for nodeID.
	ReadClusterNotifications(ctx context.Context, nodeID string) ([]ClusterNotification, error)
	PeekClusterNotifications(ctx context.Context, nodeID string, limit int) ([]ClusterNotification, error)
	AckClusterNotifications(ctx context.Context, nodeID string, ids []int64) error
	ClearClusterNotifications(ctx context.Context) error
	ClearClusterNotificationsForNode(ctx context.Context, nodeID string) error
}

// Ops is every store operation; it runs either autocommit or inside a Txn.
type Ops interface {
	SlotStore
	CounterStore
	CoordinationStore
	MailboxStore
}

// Txn is an explicit store transaction.
type Txn interface {
	Ops
	Commit() error
	Rollback() error
}

// Store is the durable backing shared by every node of the cluster.
type Store interface {
	Ops
	Begin(ctx context.Context) (Txn, error)
	// IsOperational performs an insert/read/delete probe.
	IsOperational(ctx context.Context) bool
	Close() error
}
