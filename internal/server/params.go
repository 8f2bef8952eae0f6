package server

import (
	"net/url"
	"strconv"
	"time"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// Query parameters accepted by the check endpoint.
const (
	qAlgorithm     = "algorithm"
	qWindow        = "window"
	qMax           = "max"
	qCapacity      = "capacity"
	qRate          = "rate"
	qCount         = "n"
	qInstance      = "instance"
	qInstanceCount = "instance_count"
	qInstanceLimit = "instance_limit"
	qRules         = "rules"
)

// parseParams reads algorithm parameters from q. Missing numbers stay zero
// and are rejected by Params.Validate.
func parseParams(q url.Values) (model.Params, int64, error) {
	name := q.Get(qAlgorithm)
	if name == "" {
		name = string(model.SlidingWindow)
	}
	alg, err := model.ParseAlgorithm(name)
	if err != nil {
		return model.Params{}, 0, err
	}

	p := model.Params{Algorithm: alg, InstanceID: q.Get(qInstance)}
	if p.WindowSize, err = durationParam(q, qWindow); err != nil {
		return model.Params{}, 0, err
	}
	if p.MaxRequests, err = intParam(q, qMax, 0); err != nil {
		return model.Params{}, 0, err
	}
	if p.Capacity, err = intParam(q, qCapacity, 0); err != nil {
		return model.Params{}, 0, err
	}
	if p.Rate, err = floatParam(q, qRate); err != nil {
		return model.Params{}, 0, err
	}
	count, err := intParam(q, qInstanceCount, 0)
	if err != nil {
		return model.Params{}, 0, err
	}
	p.InstanceCount = int(count)
	if p.InstanceLimit, err = intParam(q, qInstanceLimit, 0); err != nil {
		return model.Params{}, 0, err
	}

	n, err := requestCount(q)
	if err != nil {
		return model.Params{}, 0, err
	}
	return p, n, nil
}

func requestCount(q url.Values) (int64, error) {
	return intParam(q, qCount, 1)
}

func intParam(q url.Values, name string, def int64) (int64, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, gqerrors.NewValidationError("server", name, v, "must be an integer")
	}
	return n, nil
}

func floatParam(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, gqerrors.NewValidationError("server", name, v, "must be a number")
	}
	return f, nil
}

func durationParam(q url.Values, name string) (time.Duration, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, gqerrors.NewValidationError("server", name, v, "must be a duration such as 1m or 500ms")
	}
	return d, nil
}
