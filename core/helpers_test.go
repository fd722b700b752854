package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Comcast/nimbus/util/testutil"
)

var (
	testApp = AppContext{
		AppName: "fenix",
		AppID:   "org.mozilla.fenix",
		Channel: "nightly",
	}

	testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

// recipes decodes recipe documents the way a fetched catalog would be.
func recipes(t *testing.T, docs ...map[string]interface{}) []Recipe {
	t.Helper()
	rs, err := ParseRecipes(testutil.Payload(docs...), nil, nil)
	require.NoError(t, err)
	require.Len(t, rs, len(docs))
	return rs
}

// sequentialIDs makes predictable enrollment ids.
func sequentialIDs() func() uuid.UUID {
	n := 0
	return func() uuid.UUID {
		n++
		var id uuid.UUID
		id[14] = byte(n >> 8)
		id[15] = byte(n)
		return id
	}
}

// exprOracle answers "true", "false" and the expressions it lists.
type exprOracle map[string]bool

func (o exprOracle) Evaluate(ctx context.Context, expr string, attrs *TargetingAttributes) (bool, error) {
	switch expr {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if b, have := o[expr]; have {
		return b, nil
	}
	return false, fmt.Errorf("can't evaluate %q", expr)
}

func testEvolver(o Oracle) *Evolver {
	if o == nil {
		o = exprOracle{}
	}
	return &Evolver{
		Evaluation: Evaluation{
			Units:      AvailableRandomizationUnits{NimbusID: testutil.ClientID},
			Oracle:     o,
			Attributes: NewTargetingAttributes(testApp),
			NewID:      sequentialIDs(),
		},
		Now: func() time.Time { return testNow },
	}
}

func bySlug(es []Enrollment) map[string]Enrollment {
	acc := make(map[string]Enrollment, len(es))
	for _, e := range es {
		acc[e.Slug] = e
	}
	return acc
}
