package runwriter

import (
	"fmt"

	"github.com/choiros/choiros/internal/core"
)

// applyOps applies a PatchOp sequence (§3.3) to content and returns the
// result. Ops are applied against positions in the *original* content, in
// the order given, matching typical OT/rope patch semantics: Retain moves
// the cursor forward without modification, Insert/Delete/Replace mutate at
// the cursor's current position in the source, and the cursor always
// advances past the consumed source span.
func applyOps(content string, ops []core.PatchOp) (string, error) {
	var out []byte
	cursor := 0
	for _, op := range ops {
		if op.Pos < cursor {
			return "", fmt.Errorf("patch op position %d precedes cursor %d", op.Pos, cursor)
		}
		switch op.Op {
		case core.OpRetain:
			end := op.Pos + op.Len
			if end > len(content) {
				return "", fmt.Errorf("retain past end of content")
			}
			out = append(out, content[op.Pos:end]...)
			cursor = end
		case core.OpInsert:
			out = append(out, content[cursor:op.Pos]...)
			out = append(out, op.Text...)
			cursor = op.Pos
		case core.OpDelete:
			out = append(out, content[cursor:op.Pos]...)
			end := op.Pos + op.Len
			if end > len(content) {
				return "", fmt.Errorf("delete past end of content")
			}
			cursor = end
		case core.OpReplace:
			out = append(out, content[cursor:op.Pos]...)
			out = append(out, op.Text...)
			end := op.Pos + op.Len
			if end > len(content) {
				return "", fmt.Errorf("replace past end of content")
			}
			cursor = end
		default:
			return "", fmt.Errorf("unknown patch op %q", op.Op)
		}
	}
	out = append(out, content[cursor:]...)
	return string(out), nil
}
