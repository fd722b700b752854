package targeting

import (
	"fmt"
	"math"

	"github.com/Comcast/nimbus/behavior"
	"github.com/Comcast/nimbus/sampling"
)

// EventQuerier answers behavioral queries.  *behavior.Store is one.
type EventQuerier interface {
	Query(eventID string, interval behavior.Interval, numBuckets, startingBucket int, q behavior.QueryType) (float64, error)
}

// TransformError reports bad arguments given to a transform.
type TransformError struct {
	Transform string
	Msg       string
}

func (e *TransformError) Error() string {
	return "transform " + e.Transform + ": " + e.Msg
}

// Transform is the Go side of "x|name(args)".  The subject x is the
// first argument.
type Transform func(args ...interface{}) (interface{}, error)

var eventTransforms = map[string]behavior.QueryType{
	"eventSum":                       behavior.Sum,
	"eventCountNonZero":              behavior.CountNonZero,
	"eventAveragePerInterval":        behavior.AveragePerInterval,
	"eventAveragePerNonZeroInterval": behavior.AveragePerNonZeroInterval,
	"eventLastSeen":                  behavior.LastSeen,
}

// Transforms returns the standard transforms.  Event transforms
// query events, which may be nil when there is no event store.
func Transforms(events EventQuerier) map[string]Transform {
	ts := map[string]Transform{
		"versionCompare": versionCompare,
		"bucketSample":   bucketSample,
	}
	for name, q := range eventTransforms {
		ts[name] = eventQuery(name, events, q)
	}
	return ts
}

func argError(name, format string, args ...interface{}) error {
	return &TransformError{Transform: name, Msg: fmt.Sprintf(format, args...)}
}

func asNumber(x interface{}) (float64, bool) {
	switch vv := x.(type) {
	case int64:
		return float64(vv), true
	case int:
		return float64(vv), true
	case float64:
		return vv, !math.IsNaN(vv)
	}
	return 0, false
}

func asCount(name string, x interface{}, what string) (int, error) {
	f, ok := asNumber(x)
	if !ok || f < 0 {
		return 0, argError(name, "requires a positive number as the %s", what)
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(f), nil
}

func asUint32(name string, x interface{}, what string) (uint32, error) {
	f, ok := asNumber(x)
	if !ok || f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, argError(name, "%s must be a 32-bit unsigned integer, not %v", what, x)
	}
	return uint32(f), nil
}

func versionCompare(args ...interface{}) (interface{}, error) {
	const name = "versionCompare"
	if len(args) != 2 {
		return nil, argError(name, "requires a version to compare with")
	}
	cur, ok := args[0].(string)
	if !ok {
		return nil, argError(name, "current version %v is not a string", args[0])
	}
	minimum, ok := args[1].(string)
	if !ok {
		return nil, argError(name, "minimum version %v is not a string", args[1])
	}
	c, err := CompareVersions(cur, minimum)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// bucketSample is "input|bucketSample(start, count, total)".
func bucketSample(args ...interface{}) (interface{}, error) {
	const name = "bucketSample"
	if len(args) != 4 {
		return nil, argError(name, "requires start, count and total")
	}
	start, err := asUint32(name, args[1], "start")
	if err != nil {
		return nil, err
	}
	count, err := asUint32(name, args[2], "count")
	if err != nil {
		return nil, err
	}
	total, err := asUint32(name, args[3], "total")
	if err != nil {
		return nil, err
	}
	return sampling.BucketSample(args[0], start, count, total)
}

// eventQuery handles "'event'|eventSum('Days', n[, start])" and
// "'event'|eventLastSeen('Days'[, start])".
func eventQuery(name string, events EventQuerier, q behavior.QueryType) Transform {
	return func(args ...interface{}) (interface{}, error) {
		lastSeen := q == behavior.LastSeen

		lo, hi := 3, 4
		if lastSeen {
			lo, hi = 2, 3
		}
		if len(args) < lo || hi < len(args) {
			return nil, argError(name, "requires %d-%d parameters", lo-1, hi-1)
		}

		eventID, ok := args[0].(string)
		if !ok {
			return nil, argError(name, "event %v is not a string", args[0])
		}
		s, ok := args[1].(string)
		if !ok {
			return nil, argError(name, "interval %v is not a string", args[1])
		}
		interval, err := behavior.ParseInterval(s)
		if err != nil {
			return nil, err
		}

		var numBuckets, start int
		rest := args[2:]
		if !lastSeen {
			if numBuckets, err = asCount(name, rest[0], "bucket count"); err != nil {
				return nil, err
			}
			rest = rest[1:]
		}
		if len(rest) > 0 {
			if start, err = asCount(name, rest[0], "starting bucket"); err != nil {
				return nil, err
			}
		}
		if lastSeen {
			numBuckets = math.MaxInt - start
		}

		if events == nil {
			return q.ErrorValue(), nil
		}
		return events.Query(eventID, interval, numBuckets, start, q)
	}
}
