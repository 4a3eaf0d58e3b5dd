package server

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

const (
	controlLabel   = "control"
	treatmentLabel = "treatment"
)

type analysisRequest struct {
	Group1      json.RawMessage `json:"group1"`
	Group2      json.RawMessage `json:"group2"`
	TestType    string          `json:"test_type"`
	Alpha       float64         `json:"alpha"`
	Alternative string          `json:"alternative"`
}

type ratioSample struct {
	X []float64 `json:"X"`
	Y []float64 `json:"Y"`
}

type analysisResponse struct {
	TStat              float64           `json:"t_stat"`
	PValue             float64           `json:"p_value"`
	ConfidenceInterval stattest.Interval `json:"confidence_interval"`
	TestType           string            `json:"test_type"`
	Result             *stattest.Result  `json:"result"`
}

// columnMap serves pre-split samples to batch.Test.
type columnMap map[string][]float64

func (c columnMap) Column(name string) ([]float64, bool) {
	v, ok := c[name]
	return v, ok
}

// handleExperimentAnalysis compares group2 (treatment) against group1
// (control) on raw samples.
func (s *Server) handleExperimentAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TestType == "" {
		req.TestType = "welch"
	}
	if req.Alpha == 0 {
		req.Alpha = s.cfg.Stats.Alpha
	}
	sided, err := stattest.ParseSidedness(req.Alternative)
	if err != nil {
		writeError(w, err)
		return
	}

	var (
		metric stattest.Metric
		cols   columnMap
		labels []string
	)
	switch req.TestType {
	case "welch", "mean", "proportion":
		var g1, g2 []float64
		if json.Unmarshal(req.Group1, &g1) != nil || json.Unmarshal(req.Group2, &g2) != nil {
			badRequest(w, "group1 and group2 must be arrays of numbers")
			return
		}
		if len(g1) == 0 || len(g2) == 0 {
			badRequest(w, "both groups must contain data")
			return
		}
		metric = stattest.Mean("metric")
		if req.TestType == "proportion" {
			metric = stattest.Proportion("metric")
		}
		cols = columnMap{"metric": slices.Concat(g1, g2)}
		labels = groupLabels(len(g1), len(g2))
	case "ratio":
		var g1, g2 ratioSample
		if json.Unmarshal(req.Group1, &g1) != nil || json.Unmarshal(req.Group2, &g2) != nil {
			badRequest(w, "ratio test requires X and Y data in object form")
			return
		}
		if len(g1.X) == 0 || len(g2.X) == 0 {
			badRequest(w, "both groups must contain data")
			return
		}
		if len(g1.X) != len(g1.Y) || len(g2.X) != len(g2.Y) {
			writeError(w, experr.Configf("X and Y must have the same length in each group"))
			return
		}
		metric = stattest.Ratio("x", "y")
		cols = columnMap{"x": slices.Concat(g1.X, g2.X), "y": slices.Concat(g1.Y, g2.Y)}
		labels = groupLabels(len(g1.X), len(g2.X))
	default:
		badRequest(w, "unsupported test type: "+req.TestType)
		return
	}

	opts := stattest.Options{Alpha: req.Alpha, Sidedness: sided}
	res, err := batch.Test(cols, labels, metric, treatmentLabel, controlLabel, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisResponse{
		TStat:              res.TStatistic,
		PValue:             res.PValue,
		ConfidenceInterval: res.CI,
		TestType:           req.TestType,
		Result:             res,
	})
}

func groupLabels(control, treatment int) []string {
	labels := make([]string, 0, control+treatment)
	for range control {
		labels = append(labels, controlLabel)
	}
	for range treatment {
		labels = append(labels, treatmentLabel)
	}
	return labels
}
