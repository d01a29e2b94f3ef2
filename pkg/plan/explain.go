package plan

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Explain renders a human-readable plan: operator tree, chosen join
// order, cardinality estimates, and memoization markers (spec §4.E).
func Explain(p *Plan) string {
	var sb strings.Builder
	explainNode(&sb, p.Root, 0)
	return sb.String()
}

func explainNode(sb *strings.Builder, op *Op, depth int) {
	if op == nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	switch op.Kind {
	case OpSourceAllOfType:
		fmt.Fprintf(sb, "%sSourceAllOfType(%s) ~%s rows\n", indent, op.TType, humanize.Comma(int64(op.Cardinality)))
	case OpSourceByIdentity:
		fmt.Fprintf(sb, "%sSourceByIdentity(%s, %q)\n", indent, op.TType, op.Val)
	case OpTraverse:
		fmt.Fprintf(sb, "%sTraverse\n", indent)
		explainNode(sb, op.Input, depth+1)
	case OpFilterType:
		fmt.Fprintf(sb, "%sFilterType(%s) ~%s rows\n", indent, op.TType, humanize.Comma(int64(op.Cardinality)))
		explainNode(sb, op.Input, depth+1)
	case OpFilterPredicate:
		fmt.Fprintf(sb, "%sFilterPredicate\n", indent)
		explainNode(sb, op.Input, depth+1)
	case OpIntersect:
		fmt.Fprintf(sb, "%sIntersect (smaller source first)\n", indent)
		explainNode(sb, op.Input, depth+1)
		explainNode(sb, op.Input2, depth+1)
	case OpUnion:
		fmt.Fprintf(sb, "%sUnion\n", indent)
		explainNode(sb, op.Input, depth+1)
		explainNode(sb, op.Input2, depth+1)
	case OpDifference:
		fmt.Fprintf(sb, "%sDifference\n", indent)
		explainNode(sb, op.Input, depth+1)
		explainNode(sb, op.Input2, depth+1)
	case OpMemo:
		fmt.Fprintf(sb, "%sMemo[digest=%x]\n", indent, op.Input.Digest())
		explainNode(sb, op.Input, depth+1)
	}
}
