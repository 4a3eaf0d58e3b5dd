package server

import (
	"net/http"

	"github.com/sells-group/abtest-cli/internal/samplesize"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

type sampleSizeRequest struct {
	MetricName   string   `json:"metric_name"`
	MetricType   string   `json:"metric_type"`
	Baseline     float64  `json:"baseline"`
	Variance     *float64 `json:"variance"`
	MDE          *float64 `json:"mde"`
	DailyTraffic *float64 `json:"daily_traffic"`
	SampleRatio  *float64 `json:"sample_ratio"`
	K            *float64 `json:"k"`
	GroupNum     *int     `json:"group_num"`
}

type sampleSizeResponse struct {
	samplesize.Requirement
	MetricType string  `json:"metric_type"`
	Baseline   float64 `json:"baseline"`
	GroupNum   int     `json:"group_num"`
}

func orDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func (s *Server) handleSampleSize(w http.ResponseWriter, r *http.Request) {
	var req sampleSizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MetricName == "" {
		req.MetricName = "metric"
	}
	kind, err := stattest.ParseKind(req.MetricType)
	if err != nil {
		writeError(w, err)
		return
	}
	if kind == stattest.KindRatio {
		badRequest(w, "ratio metric type does not support sample size calculation")
		return
	}

	planner, err := samplesize.NewPlanner(s.cfg.Stats.Alpha, s.cfg.SampleSize.Power, true)
	if err != nil {
		writeError(w, err)
		return
	}
	groups := orDefault(req.GroupNum, 2)
	params := samplesize.MetricParams{
		Name:     req.MetricName,
		Kind:     kind,
		Baseline: req.Baseline,
		Variance: orDefault(req.Variance, 1),
	}
	rows, err := planner.Requirements(
		[]samplesize.MetricParams{params},
		samplesize.Grid{Start: orDefault(req.MDE, 0.1)},
		samplesize.Traffic{
			Daily:       orDefault(req.DailyTraffic, 1000),
			SampleRatio: orDefault(req.SampleRatio, 0.1),
			K:           orDefault(req.K, 1),
			Groups:      groups,
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows[0].Error != "" {
		badRequest(w, rows[0].Error)
		return
	}
	writeJSON(w, http.StatusOK, sampleSizeResponse{
		Requirement: rows[0],
		MetricType:  kind.String(),
		Baseline:    req.Baseline,
		GroupNum:    groups,
	})
}
