// Package engine implements the task state machine, WR builder, CQ poller,
// MKey/PSV pools, QP router, QP recovery, and channel/poller that turn a
// generic accel task into a sequence of (UMR, RDMA) work-request pairs
// against a nic.Device.
package engine

import (
	"github.com/behrlich/go-mlx5accel/internal/nic"
)

// Opcode identifies the operation a Task performs.
type Opcode int

const (
	OpCopy Opcode = iota
	OpEncrypt
	OpDecrypt
	OpChecksumCRC32C
	OpCheckCRC32C
	OpEncryptAndCRC32C
	OpCRC32CAndDecrypt
)

func (o Opcode) String() string {
	switch o {
	case OpCopy:
		return "COPY"
	case OpEncrypt:
		return "ENCRYPT"
	case OpDecrypt:
		return "DECRYPT"
	case OpChecksumCRC32C:
		return "CRC32C"
	case OpCheckCRC32C:
		return "CHECK_CRC32C"
	case OpEncryptAndCRC32C:
		return "ENCRYPT_AND_CRC32C"
	case OpCRC32CAndDecrypt:
		return "CRC32C_AND_DECRYPT"
	default:
		return "UNKNOWN"
	}
}

// IsCrypto reports whether the opcode involves an AES-XTS transform.
func (o Opcode) IsCrypto() bool {
	switch o {
	case OpEncrypt, OpDecrypt, OpEncryptAndCRC32C, OpCRC32CAndDecrypt:
		return true
	default:
		return false
	}
}

// IsSignature reports whether the opcode involves a signature (CRC) MKey.
func (o Opcode) IsSignature() bool {
	switch o {
	case OpChecksumCRC32C, OpCheckCRC32C, OpEncryptAndCRC32C, OpCRC32CAndDecrypt:
		return true
	default:
		return false
	}
}

// TaskState is the per-task lifecycle state from spec's state diagram:
// NEW -> RESOURCES_READY -> IN_HW <-> PARTIAL_DRAINED -> ... -> FULLY_SUBMITTED -> COMPLETED,
// with NOMEM and FAILED side-states.
type TaskState int

const (
	TaskNew TaskState = iota
	TaskNomem
	TaskResourcesReady
	TaskInHW
	TaskPartialDrained
	TaskFullySubmitted
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskNew:
		return "NEW"
	case TaskNomem:
		return "NOMEM"
	case TaskResourcesReady:
		return "RESOURCES_READY"
	case TaskInHW:
		return "IN_HW"
	case TaskPartialDrained:
		return "PARTIAL_DRAINED"
	case TaskFullySubmitted:
		return "FULLY_SUBMITTED"
	case TaskCompleted:
		return "COMPLETED"
	case TaskFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IOV is a single virtual scatter/gather range before translation.
type IOV struct {
	Addr uint64
	Len  uint32
}

// EncryptionOrder selects whether the signature check/generate happens
// against the raw wire bytes or the raw in-memory (plaintext) bytes, used
// by the fused opcodes.
type EncryptionOrder int

const (
	EncryptionOrderRawOnWire EncryptionOrder = iota
	EncryptionOrderRawInMemory
)

// CompletionFunc is invoked once a task reaches COMPLETED or FAILED.
type CompletionFunc func(t *Task, err error)

// Task represents a single logical accel operation, mirroring the data
// model's Task entity.
type Task struct {
	Opcode Opcode
	State  TaskState

	Src []IOV
	Dst []IOV

	srcCursor iovCursor
	dstCursor iovCursor

	SrcDomain MemoryDomain
	DstDomain MemoryDomain

	BlockSize uint32
	IVBase    [16]byte
	DekObjID  uint32
	Tweak     uint8 // wire.TweakMode, kept untyped here to avoid import cycle noise

	CRCSeed uint32
	CRCDst  *uint32

	NumReqs          int
	NumSubmittedReqs int
	NumCompletedReqs int
	NumOps           int
	NumWrs           int

	Merged   bool
	InPlace  bool
	EncOrder EncryptionOrder

	QP *QP

	MKeys []nic.MKey
	PSV   *PSV

	LkeyCache *uint32

	MergedSibling *Task

	WriteWRID uint64

	// SubmitTime is the UnixNano timestamp the task was handed to a channel,
	// used to compute the submission-to-completion latency recorded against
	// the device's Observer.
	SubmitTime int64

	onComplete CompletionFunc
	err        error

	// splitPlan holds the per-sub-request block counts for multi-block
	// crypto splitting (§ Resource sizing, CRYPTO).
	splitPlan []int

	// roundWrs is the WR count charged to the QP for the most recently
	// submitted batch, released back by the poller once that batch's
	// signaled completion arrives.
	roundWrs int

	// roundReqs is the number of sub-requests posted in the most recently
	// submitted batch, added to NumCompletedReqs by the poller once that
	// batch's signaled completion arrives.
	roundReqs int
}

// NumWrsRemaining returns the WRs still outstanding against the QP for this
// task, used by invariant checks and recovery accounting.
func (t *Task) NumWrsRemaining() int {
	if t.NumReqs == 0 {
		return 0
	}
	fraction := t.NumSubmittedReqs - t.NumCompletedReqs
	if fraction <= 0 {
		return 0
	}
	return t.NumWrs * fraction / maxInt(t.NumSubmittedReqs, 1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// NewTask creates a task in the NEW state.
func NewTask(op Opcode, onComplete CompletionFunc) *Task {
	return &Task{Opcode: op, State: TaskNew, onComplete: onComplete}
}

// fail transitions the task to FAILED and invokes its completion callback.
func (t *Task) fail(err error) {
	t.State = TaskFailed
	t.err = err
	if t.onComplete != nil {
		t.onComplete(t, err)
	}
}

// complete transitions the task to COMPLETED and invokes its completion
// callback with the given error (nil on success).
func (t *Task) complete(err error) {
	t.State = TaskCompleted
	t.err = err
	if t.onComplete != nil {
		t.onComplete(t, err)
	}
}
