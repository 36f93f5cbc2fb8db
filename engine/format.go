package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
)

// Identifier resolves human readable names for contracts shown in traces.
type Identifier interface {
	ContractName(ctx context.Context, chainID uint64, addr common.Address) (string, bool)
}

// TraceWriter renders a call tree the way forge prints traces:
//
//	Traces:
//	  [24094] Token::a9059cbb(...)
//	    ├─ [2600] 0x7a25…::balanceOf(...) [staticcall]
//	    │   └─ ← 0x…
//	    └─ ← 0x…01
type TraceWriter struct {
	chainID uint64
	ident   Identifier

	call, success, fail, dim *color.Color
	names                    map[common.Address]string
}

// NewTraceWriter creates a writer. A nil identifier prints raw addresses.
func NewTraceWriter(chainID uint64, ident Identifier, colored bool) *TraceWriter {
	w := &TraceWriter{
		chainID: chainID,
		ident:   ident,
		call:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		dim:     color.New(color.Faint),
		names:   make(map[common.Address]string),
	}
	for _, c := range []*color.Color{w.call, w.success, w.fail, w.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return w
}

// Format renders the tree rooted at nodes[0].
func (w *TraceWriter) Format(ctx context.Context, nodes []*CallTraceNode) string {
	var b strings.Builder
	b.WriteString("Traces:\n")
	if len(nodes) > 0 {
		w.writeNode(ctx, &b, nodes, 0, "  ", "  ")
	}
	return b.String()
}

func (w *TraceWriter) writeNode(ctx context.Context, b *strings.Builder, nodes []*CallTraceNode, idx int, first, rest string) {
	node := nodes[idx]
	status := w.success
	if node.Reverted || node.Error != "" {
		status = w.fail
	}
	fmt.Fprintf(b, "%s[%d] %s::%s", first, node.GasUsed, status.Sprint(w.label(ctx, node.To)), w.call.Sprint(selector(node.Input)))
	if node.Value != nil && !node.Value.IsZero() {
		fmt.Fprintf(b, "{value: %s}", node.Value.Dec())
	}
	fmt.Fprintf(b, "(%s)", hexutil.Encode(args(node.Input)))
	if node.Kind != "CALL" {
		b.WriteString(w.dim.Sprintf(" [%s]", strings.ToLower(node.Kind)))
	}
	b.WriteString("\n")

	for _, child := range node.Children {
		w.writeNode(ctx, b, nodes, child, rest+"├─ ", rest+"│   ")
	}
	fmt.Fprintf(b, "%s└─ %s\n", rest, status.Sprint("← "+w.outcome(node)))
}

func (w *TraceWriter) outcome(node *CallTraceNode) string {
	switch {
	case node.Error != "" && len(node.Output) == 0:
		return "[" + node.Error + "]"
	case node.Reverted:
		return "[Revert] " + hexutil.Encode(node.Output)
	case len(node.Output) == 0:
		return "()"
	default:
		return hexutil.Encode(node.Output)
	}
}

func (w *TraceWriter) label(ctx context.Context, addr common.Address) string {
	if name, ok := w.names[addr]; ok {
		return name
	}
	name := addr.Hex()
	if w.ident != nil {
		if n, ok := w.ident.ContractName(ctx, w.chainID, addr); ok && n != "" {
			name = n
		}
	}
	w.names[addr] = name
	return name
}

func selector(input []byte) string {
	if len(input) < 4 {
		return "fallback"
	}
	return hexutil.Encode(input[:4])[2:]
}

func args(input []byte) []byte {
	if len(input) < 4 {
		return input
	}
	return input[4:]
}
