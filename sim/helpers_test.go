package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// testParams compiles DefaultConfig after applying mutate.
func testParams(t *testing.T, mutate ...func(c *Config)) *Params {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	p, err := cfg.Compile()
	require.NoError(t, err)
	return p
}

func testRng() *rand.Rand { return rand.New(rand.NewSource(1)) }

func at(plane, block, page int) Address {
	return Address{Die: 0, Plane: plane, Block: block, Page: page}
}

// testOp builds an op with a bus ISSUE segment followed by a CORE_BUSY body.
func testOp(kind OpKind, issue, body int64, targets ...Address) *Operation {
	return &Operation{
		Kind:    kind,
		Scope:   ScopePlaneSet,
		Targets: targets,
		Segments: []Segment{
			{Name: "ISSUE", Duration: issue, Bus: true},
			{Name: "CORE_BUSY", Duration: body},
		},
	}
}

// testDout builds a DOUT whose ISSUE and DATA_OUT segments both hold the bus.
func testDout(issue, data int64, targets ...Address) *Operation {
	return &Operation{
		Kind:    KindDout,
		Scope:   ScopePlaneSet,
		Targets: targets,
		Segments: []Segment{
			{Name: "ISSUE", Duration: issue, Bus: true},
			{Name: "DATA_OUT", Duration: data, Bus: true},
		},
	}
}

// placed sets the accepted interval of op as the scheduler would.
func placed(op *Operation, id, start int64) *Operation {
	op.ID = id
	op.Start = start
	op.End = start + op.Duration()
	return op
}
