package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Comcast/nimbus/client"
)

// Op is one client operation, as a JSON object, for the control plane
// and the op command.
//
// Only one of the operation fields should have value.
type Op struct {
	// Apply applies the pending catalog.
	Apply bool `json:"apply,omitempty"`

	// Fetch stages a catalog from the configured source.
	Fetch bool `json:"fetch,omitempty"`

	// Branch asks for the branch of the given experiment.
	Branch string `json:"branch,omitempty"`

	// Feature asks for the merged variables of the given feature.
	Feature string `json:"feature,omitempty"`

	// Active lists the active experiments.
	Active bool `json:"active,omitempty"`

	OptIn  *OptInOp `json:"optIn,omitempty"`
	OptOut string   `json:"optOut,omitempty"`

	// Participation sets global participation.
	Participation *bool `json:"participation,omitempty"`

	Event *EventOp `json:"event,omitempty"`
	Eval  *EvalOp  `json:"eval,omitempty"`

	// Result is what the operation produced.
	Result interface{} `json:"result,omitempty"`

	// Error will hold an error (if any) that results from
	// processing this operation.
	Error error `json:"-"`

	// Err is Error as a string.
	Err string `json:"err,omitempty"`
}

type OptInOp struct {
	Slug   string `json:"slug"`
	Branch string `json:"branch"`
}

type EventOp struct {
	ID         string `json:"id"`
	Count      int64  `json:"count,omitempty"`
	SecondsAgo int64  `json:"secondsAgo,omitempty"`
}

type EvalOp struct {
	Expr    string                 `json:"expr"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// erred returns values to assign to an Op's Error and Err.
func erred(err error) (error, string) {
	if err == nil {
		return nil, ""
	}
	return err, err.Error()
}

// Lookup is the answer to a Branch or Feature op.
type Lookup struct {
	Enrolled  bool                   `json:"enrolled"`
	Branch    string                 `json:"branch,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Do performs the operation.
func (o *Op) Do(ctx context.Context, c *client.Client) error {
	var (
		result interface{}
		err    error
	)
	switch {
	case o.Apply:
		result, err = c.ApplyPendingExperiments(ctx)
	case o.Fetch:
		err = c.FetchExperiments(ctx)
	case o.Branch != "":
		var l Lookup
		l.Branch, l.Enrolled, err = c.GetExperimentBranch(o.Branch)
		result = l
	case o.Feature != "":
		var l Lookup
		l.Variables, l.Enrolled, err = c.GetFeatureConfigVariables(o.Feature)
		result = l
	case o.Active:
		result, err = c.GetActiveExperiments()
	case o.OptIn != nil:
		result, err = c.OptInWithBranch(ctx, o.OptIn.Slug, o.OptIn.Branch)
	case o.OptOut != "":
		result, err = c.OptOut(ctx, o.OptOut)
	case o.Participation != nil:
		result, err = c.SetGlobalUserParticipation(ctx, *o.Participation)
	case o.Event != nil:
		err = o.Event.Do(ctx, c)
	case o.Eval != nil:
		result, err = c.CreateTargetingHelper(o.Eval.Context).EvalJEXL(ctx, o.Eval.Expr)
	default:
		js, _ := json.Marshal(o)
		err = fmt.Errorf("not implemented: %s", js)
	}

	if err != nil {
		o.Error, o.Err = erred(err)
		return err
	}
	o.Result = result
	return nil
}

func (o *EventOp) Do(ctx context.Context, c *client.Client) error {
	count := o.Count
	if count == 0 {
		count = 1
	}
	if o.SecondsAgo != 0 {
		return c.RecordPastEvent(ctx, o.ID, o.SecondsAgo, count)
	}
	return c.RecordEvent(ctx, o.ID, count)
}
