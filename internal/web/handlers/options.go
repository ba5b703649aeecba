package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/metric"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// OptionsRequest overrides the configured clustering and detection defaults
// for one run. Nil fields keep the defaults.
type OptionsRequest struct {
	Algorithm      *string  `json:"algorithm,omitempty"`
	Eps            *float64 `json:"eps,omitempty"`
	MinSamples     *int     `json:"min_samples,omitempty"`
	MinClusterSize *int     `json:"min_cluster_size,omitempty"`
	Metric         *string  `json:"metric,omitempty"`
	NeighborIndex  *string  `json:"neighbor_index,omitempty"`
	MinSize        *int     `json:"min_size,omitempty"`
	DetThresh      *float64 `json:"det_thresh,omitempty"`
	MaxOverlap     *float64 `json:"max_overlap,omitempty"`
}

// optionsFromForm reads overrides from multipart or URL-encoded form fields.
func optionsFromForm(r *http.Request) (OptionsRequest, error) {
	var o OptionsRequest
	var err error
	o.Algorithm = formString(r, "algorithm")
	if o.Eps, err = formFloat(r, "eps"); err != nil {
		return o, err
	}
	if o.MinSamples, err = formInt(r, "min_samples"); err != nil {
		return o, err
	}
	if o.MinClusterSize, err = formInt(r, "min_cluster_size"); err != nil {
		return o, err
	}
	o.Metric = formString(r, "metric")
	o.NeighborIndex = formString(r, "neighbor_index")
	if o.MinSize, err = formInt(r, "min_size"); err != nil {
		return o, err
	}
	if o.DetThresh, err = formFloat(r, "det_thresh"); err != nil {
		return o, err
	}
	if o.MaxOverlap, err = formFloat(r, "max_overlap"); err != nil {
		return o, err
	}
	return o, nil
}

// resolve applies the overrides to the configured defaults and validates the
// clustering parameters, so a bad request fails before any detector call.
func (o OptionsRequest) resolve(cfg *config.Config) (pipeline.Options, error) {
	params := cfg.Clustering.Params()
	filter := cfg.Detection.FilterOptions()

	if o.Algorithm != nil {
		params.Algorithm = cluster.Algorithm(*o.Algorithm)
	}
	if o.Eps != nil {
		params.Eps = *o.Eps
	}
	if o.MinSamples != nil {
		params.MinSamples = *o.MinSamples
	}
	if o.MinClusterSize != nil {
		params.MinClusterSize = *o.MinClusterSize
	}
	if o.Metric != nil {
		params.Metric = metric.Metric(strings.ToLower(*o.Metric))
	}
	if o.NeighborIndex != nil {
		params.NeighborIndex = cluster.NeighborIndex(strings.ToLower(*o.NeighborIndex))
	}
	if o.MinSize != nil {
		filter.MinSize = *o.MinSize
	}
	if o.DetThresh != nil {
		filter.MinConfidence = *o.DetThresh
	}
	if o.MaxOverlap != nil {
		filter.MaxOverlap = *o.MaxOverlap
	}

	engine, err := cluster.NewEngine(params)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{Clustering: engine.Params(), Filter: filter}, nil
}

func formString(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil
	}
	return &v
}

func formInt(r *http.Request, key string) (*int, error) {
	s := formString(r, key)
	if s == nil {
		return nil, nil
	}
	n, err := strconv.Atoi(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", key, *s)
	}
	return &n, nil
}

func formFloat(r *http.Request, key string) (*float64, error) {
	s := formString(r, key)
	if s == nil {
		return nil, nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", key, *s)
	}
	return &f, nil
}
