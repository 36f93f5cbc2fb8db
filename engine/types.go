package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// CallRequest describes one call executed against a forked context.
type CallRequest struct {
	From        common.Address
	To          common.Address
	Value       *uint256.Int // nil means zero
	Data        []byte
	AccessList  types.AccessList
	FormatTrace bool
}

// CallResult is the outcome of a single call.
type CallResult struct {
	GasUsed        uint64
	BlockNumber    uint64
	Success        bool
	Trace          []*CallTraceNode
	Logs           []*types.Log
	ExitReason     string
	ReturnData     []byte
	FormattedTrace *string
}

// CallTraceNode is one frame of the call tree. Nodes are stored in the order
// the frames were entered; Parent and Children index into the same slice.
type CallTraceNode struct {
	Idx      int
	Parent   int // -1 for the root frame
	Children []int
	Depth    int

	Kind     string // CALL, STATICCALL, DELEGATECALL, CALLCODE, CREATE, CREATE2, SELFDESTRUCT
	From     common.Address
	To       common.Address
	Value    *uint256.Int
	Input    []byte
	Output   []byte
	Gas      uint64
	GasUsed  uint64
	Reverted bool
	Error    string
}

// StorageOverride replaces (Diff == false) or patches (Diff == true) the
// storage of an account.
type StorageOverride struct {
	Slots map[common.Hash]common.Hash
	Diff  bool
}

// AccountOverride patches an account before execution. Nil fields are left
// untouched; a non-nil empty Code clears the code.
type AccountOverride struct {
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
	Storage *StorageOverride
}

// Account is the basic account data read from the fork.
type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
}
