package simulation

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// SimulationRequest describes one simulated transaction.
type SimulationRequest struct {
	ChainID        uint64                           `json:"chainId"`
	From           common.Address                   `json:"from"`
	To             common.Address                   `json:"to"`
	Data           hexutil.Bytes                    `json:"data,omitempty"`
	GasLimit       Quantity                         `json:"gasLimit"`
	Value          *Quantity                        `json:"value,omitempty"`
	AccessList     AccessList                       `json:"accessList,omitempty"`
	BlockNumber    *uint64                          `json:"blockNumber,omitempty"`
	BlockTimestamp *Quantity                        `json:"blockTimestamp,omitempty"`
	StateOverrides map[common.Address]StateOverride `json:"stateOverrides,omitempty"`
	FormatTrace    bool                             `json:"formatTrace,omitempty"`
}

// SimulationResponse is the outcome of one simulated transaction.
type SimulationResponse struct {
	SimulationID   uint64        `json:"simulationId"`
	GasUsed        uint64        `json:"gasUsed"`
	BlockNumber    uint64        `json:"blockNumber"`
	Success        bool          `json:"success"`
	Trace          []CallTrace   `json:"trace"`
	FormattedTrace *string       `json:"formattedTrace"`
	Logs           []Log         `json:"logs"`
	ExitReason     string        `json:"exitReason"`
	ReturnData     hexutil.Bytes `json:"returnData"`
}

// CallTrace is one frame of the flattened call tree.
type CallTrace struct {
	CallType string         `json:"callType"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    Quantity       `json:"value"`
}

// Log is an event emitted during a simulation.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

// StatefulSimulationRequest opens a session.
type StatefulSimulationRequest struct {
	ChainID        uint64    `json:"chainId"`
	GasLimit       Quantity  `json:"gasLimit"`
	BlockNumber    *uint64   `json:"blockNumber,omitempty"`
	BlockTimestamp *Quantity `json:"blockTimestamp,omitempty"`
}

// StatefulSimulationResponse carries the id of a new session.
type StatefulSimulationResponse struct {
	StatefulSimulationID uuid.UUID `json:"statefulSimulationId"`
}

// StatefulSimulationEndResponse acknowledges the end of a session.
type StatefulSimulationEndResponse struct {
	Success bool `json:"success"`
}

// StateOverride patches one account before a transaction runs. State
// replaces the whole storage, StateDiff only the listed slots. When both
// are given State wins.
type StateOverride struct {
	Balance   *Quantity             `json:"balance,omitempty"`
	Nonce     *uint64               `json:"nonce,omitempty"`
	Code      *hexutil.Bytes        `json:"code,omitempty"`
	State     map[Quantity]Quantity `json:"state,omitempty"`
	StateDiff map[Quantity]Quantity `json:"stateDiff,omitempty"`
}

// AccessList is a transaction access list. It decodes from both the tuple
// form [[address, [slot, ...]], ...] and the object form used by JSON-RPC,
// and encodes as tuples.
type AccessList []AccessTuple

// AccessTuple is one entry of an access list.
type AccessTuple struct {
	Address     common.Address
	StorageKeys []Quantity
}

// MarshalJSON implements json.Marshaler.
func (t AccessTuple) MarshalJSON() ([]byte, error) {
	keys := t.StorageKeys
	if keys == nil {
		keys = []Quantity{}
	}
	return json.Marshal([]interface{}{t.Address, keys})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *AccessTuple) UnmarshalJSON(input []byte) error {
	input = bytes.TrimSpace(input)
	if len(input) > 0 && input[0] == '{' {
		var obj struct {
			Address     *common.Address `json:"address"`
			StorageKeys []Quantity      `json:"storageKeys"`
		}
		if err := json.Unmarshal(input, &obj); err != nil {
			return err
		}
		if obj.Address == nil {
			return errors.New("access list entry without address")
		}
		t.Address, t.StorageKeys = *obj.Address, obj.StorageKeys
		return nil
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(input, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return errors.New("access list tuple must have two elements")
	}
	if err := json.Unmarshal(tuple[0], &t.Address); err != nil {
		return err
	}
	return json.Unmarshal(tuple[1], &t.StorageKeys)
}

func (l AccessList) toTypes() types.AccessList {
	if len(l) == 0 {
		return nil
	}
	list := make(types.AccessList, 0, len(l))
	for _, t := range l {
		tuple := types.AccessTuple{Address: t.Address, StorageKeys: make([]common.Hash, 0, len(t.StorageKeys))}
		for i := range t.StorageKeys {
			tuple.StorageKeys = append(tuple.StorageKeys, t.StorageKeys[i].Hash())
		}
		list = append(list, tuple)
	}
	return list
}
