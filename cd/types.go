package cd

import "github.com/cockroachdb/errors"

//go:generate msgp -io=false
type KV struct {
	Data []byte `json:"d" msg:"d"`
}

// ListMeta is the window of live items of a list.
//
//	<- pop |Front|-----------------|Back|  <- push
//
// The list is empty when Front == Back+1.
//
//go:generate msgp -io=false
type ListMeta struct {
	Front int64 `json:"f" msg:"f"`
	Back  int64 `json:"b" msg:"b"`
}

func (m ListMeta) Len() int64 {
	return m.Back - m.Front + 1
}

type OpKind string

const (
	OpSet  OpKind = "set"
	OpGet  OpKind = "get"
	OpIncr OpKind = "incr"
)

// Op is a single command of an atomic batch.
type Op struct {
	Kind  OpKind `json:"op"`
	Key   string `json:"k"`
	Value string `json:"v,omitempty"` // OpSet
	Delta int64  `json:"d,omitempty"` // OpIncr, 0 means 1
}

func Set(key, value string) Op      { return Op{Kind: OpSet, Key: key, Value: value} }
func Get(key string) Op             { return Op{Kind: OpGet, Key: key} }
func Incr(key string) Op            { return Op{Kind: OpIncr, Key: key, Delta: 1} }
func IncrBy(key string, d int64) Op { return Op{Kind: OpIncr, Key: key, Delta: d} }

// Result of one Op. Set yields "OK", Incr the new value, Get the value or Nil.
type Result struct {
	Value string `json:"v,omitempty"`
	Nil   bool   `json:"n,omitempty"`
}

type BatchRequest struct {
	Ops []Op `json:"ops"`
}

type BatchResponse struct {
	Results []Result `json:"res"`
}

func (op Op) Validate() error {
	switch op.Kind {
	case OpSet, OpGet, OpIncr:
	default:
		return errors.Newf("unknown op %q", op.Kind)
	}
	return ValidName(op.Key)
}

// Step is the increment of an OpIncr.
func (op Op) Step() int64 {
	if op.Delta == 0 {
		return 1
	}
	return op.Delta
}
