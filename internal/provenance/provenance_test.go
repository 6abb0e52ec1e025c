package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	inputs := []string{"a", "b"}
	detail := map[string]string{"engine": "hcl"}

	rec := NewRecord(OpDerive, inputs, []string{"c"}, detail)
	require.Equal(t, OpDerive, rec.Op)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, []string{"a", "b"}, rec.Inputs)
	assert.Equal(t, []string{"c"}, rec.Outputs)
	assert.Equal(t, "hcl", rec.Detail["engine"])

	// Later mutation by the caller must not reach the record.
	inputs[0] = "mutated"
	detail["engine"] = "mutated"
	assert.Equal(t, "a", rec.Inputs[0])
	assert.Equal(t, "hcl", rec.Detail["engine"])
}

func TestLogAppendLeavesReceiverUntouched(t *testing.T) {
	var l Log
	l1 := l.Append(NewRecord(OpValidate, nil, nil, nil))
	l2 := l1.Append(NewRecord(OpDerive, nil, []string{"x"}, nil))

	assert.Len(t, l, 0)
	assert.Len(t, l1, 1)
	assert.Len(t, l2, 2)
}

func TestLogBranchIsolation(t *testing.T) {
	base := Log{}.Append(NewRecord(OpValidate, nil, nil, nil))

	left := base.Append(NewRecord(OpDerive, nil, []string{"l"}, nil))
	right := base.Append(NewRecord(OpCast, []string{"r"}, []string{"r"}, nil))

	require.Len(t, left, 2)
	require.Len(t, right, 2)
	assert.Equal(t, OpDerive, left[1].Op)
	assert.Equal(t, OpCast, right[1].Op)
	assert.Len(t, base, 1)
}

func TestLogLast(t *testing.T) {
	var l Log
	_, ok := l.Last()
	assert.False(t, ok)

	l = l.Append(NewRecord(OpProfile, nil, nil, nil))
	rec, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, OpProfile, rec.Op)
}

func TestRecordString(t *testing.T) {
	rec := NewRecord(OpLookup, []string{"code"}, []string{"region"}, nil)
	assert.Equal(t, "lookup inputs=[code] outputs=[region]", rec.String())
}
