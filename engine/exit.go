package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Exit reasons reported with every call result.
const (
	ExitStop                     = "Stop"
	ExitReturn                   = "Return"
	ExitSelfDestruct             = "SelfDestruct"
	ExitRevert                   = "Revert"
	ExitOutOfGas                 = "OutOfGas"
	ExitOutOfFunds               = "OutOfFunds"
	ExitCallTooDeep              = "CallTooDeep"
	ExitStackUnderflow           = "StackUnderflow"
	ExitStackOverflow            = "StackOverflow"
	ExitOpcodeNotFound           = "OpcodeNotFound"
	ExitCreateCollision          = "CreateCollision"
	ExitCreateContractSizeLimit  = "CreateContractSizeLimit"
	ExitCreateInitCodeSizeLimit  = "CreateInitCodeSizeLimit"
	ExitStateChangeDuringStatic  = "StateChangeDuringStaticCall"
	ExitInvalidJump              = "InvalidJump"
	ExitOutOfOffset              = "OutOfOffset"
	ExitNonceOverflow            = "NonceOverflow"
	ExitCreateContractStartingEF = "CreateContractStartingWithEF"
	ExitGasUintOverflow          = "OverflowPayment"
	ExitFatal                    = "FatalExternalError"
)

var exitErrors = []struct {
	err    error
	reason string
}{
	{vm.ErrExecutionReverted, ExitRevert},
	{vm.ErrOutOfGas, ExitOutOfGas},
	{vm.ErrCodeStoreOutOfGas, ExitOutOfGas},
	{vm.ErrInsufficientBalance, ExitOutOfFunds},
	{vm.ErrDepth, ExitCallTooDeep},
	{vm.ErrContractAddressCollision, ExitCreateCollision},
	{vm.ErrMaxCodeSizeExceeded, ExitCreateContractSizeLimit},
	{vm.ErrMaxInitCodeSizeExceeded, ExitCreateInitCodeSizeLimit},
	{vm.ErrWriteProtection, ExitStateChangeDuringStatic},
	{vm.ErrInvalidJump, ExitInvalidJump},
	{vm.ErrReturnDataOutOfBounds, ExitOutOfOffset},
	{vm.ErrNonceUintOverflow, ExitNonceOverflow},
	{vm.ErrInvalidCode, ExitCreateContractStartingEF},
	{vm.ErrGasUintOverflow, ExitGasUintOverflow},
}

// exitReason names the way the outermost frame ended. Without an error the
// last opcode executed at the top level decides between Return, SelfDestruct
// and Stop.
func exitReason(err error, lastTopOp vm.OpCode) string {
	if err == nil {
		switch lastTopOp {
		case vm.RETURN:
			return ExitReturn
		case vm.SELFDESTRUCT:
			return ExitSelfDestruct
		default:
			return ExitStop
		}
	}
	for _, e := range exitErrors {
		if errors.Is(err, e.err) {
			return e.reason
		}
	}
	var (
		underflow *vm.ErrStackUnderflow
		overflow  *vm.ErrStackOverflow
		invalid   *vm.ErrInvalidOpCode
	)
	switch {
	case errors.As(err, &underflow):
		return ExitStackUnderflow
	case errors.As(err, &overflow):
		return ExitStackOverflow
	case errors.As(err, &invalid):
		return ExitOpcodeNotFound
	}
	return ExitFatal
}
