package server

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/dataset"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

// Columns that hold assignments rather than metrics.
var reservedColumns = []string{"group", "group_name", "treatment"}

const defaultMetricCount = 3

type rerandomizationRequest struct {
	Data             []map[string]any  `json:"data"`
	SelectedMetrics  []json.RawMessage `json:"selectedMetrics"`
	MetricTypes      map[string]string `json:"metricTypes"`
	UserIDColumn     string            `json:"userIdColumn"`
	Iterations       int               `json:"iterations"`
	GroupProportions groupProportions  `json:"groupProportions"`
	Control          string            `json:"control"`
	Alpha            float64           `json:"alpha"`
	BHCorrection     *bool             `json:"bhCorrection"`
}

type topSeed struct {
	Seed     string  `json:"seed"`
	MaxTStat float64 `json:"maxTStat"`
}

type metricReport struct {
	MetricType string      `json:"metric_type"`
	Tests      []batch.Row `json:"tests"`
}

type rerandomizationResponse struct {
	RunID            string                   `json:"runId"`
	BestSeed         string                   `json:"bestSeed"`
	BestScore        float64                  `json:"bestScore"`
	TopSeeds         []topSeed                `json:"topSeeds"`
	AllTStats        []float64                `json:"allTStats"`
	TotalIterations  int                      `json:"totalIterations"`
	FailedIterations int                      `json:"failedIterations"`
	Cancelled        bool                     `json:"cancelled"`
	BestSeedResults  map[string]*metricReport `json:"bestSeedResults"`
	GroupProportions groupProportions         `json:"groupProportions"`
	Control          string                   `json:"control"`
	SelectedMetrics  []string                 `json:"selectedMetrics"`
	AvailableMetrics []string                 `json:"availableMetrics"`
	DroppedRows      int                      `json:"droppedRows"`
	UnitIDs          []string                 `json:"unitIds"`
	Labels           []string                 `json:"labels"`
}

func (s *Server) handleRerandomization(w http.ResponseWriter, r *http.Request) {
	var req rerandomizationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		badRequest(w, "no valid data provided")
		return
	}
	if req.UserIDColumn == "" {
		req.UserIDColumn = "user_id"
	}
	if len(req.GroupProportions.Proportions) == 0 {
		req.GroupProportions = defaultProportions()
	}

	metrics, err := requestMetrics(req.SelectedMetrics, req.MetricTypes)
	if err != nil {
		writeError(w, err)
		return
	}
	var required []string
	for _, m := range metrics {
		required = append(required, m.Columns()...)
	}

	ds, dropped, err := dataset.FromRecords(req.Data, req.UserIDColumn, required)
	if err != nil {
		writeError(w, err)
		return
	}
	if ds.Len() == 0 {
		badRequest(w, "no valid data after cleaning")
		return
	}

	available := availableMetrics(ds)
	if len(metrics) == 0 {
		if len(available) == 0 {
			badRequest(w, "no numeric columns found for metrics")
			return
		}
		for _, col := range available[:min(defaultMetricCount, len(available))] {
			metrics = append(metrics, stattest.Mean(col))
		}
	}

	cfg := s.searchConfig(req)
	finder := seedfinder.New(cfg, s.newRNG(), s.finderOptions()...)
	final, err := finder.Run(r.Context(), seedfinder.Input{
		Dataset:     ds,
		Metrics:     metrics,
		Proportions: req.GroupProportions.Proportions,
		Control:     req.Control,
	})
	if err != nil {
		writeError(w, eris.Wrap(err, "rerandomization"))
		return
	}

	resp := rerandomizationResponse{
		RunID:            final.RunID,
		BestSeed:         final.Best.Seed,
		BestScore:        batch.Round6(final.Best.Score),
		AllTStats:        final.Scores,
		TotalIterations:  len(final.Scores),
		FailedIterations: final.Failed,
		Cancelled:        final.Cancelled,
		BestSeedResults:  make(map[string]*metricReport, len(metrics)),
		GroupProportions: req.GroupProportions,
		Control:          final.Control,
		AvailableMetrics: available,
		DroppedRows:      dropped,
		UnitIDs:          ds.IDs,
		Labels:           final.Assignment.Labels,
	}
	for _, c := range final.Top {
		resp.TopSeeds = append(resp.TopSeeds, topSeed{Seed: c.Seed, MaxTStat: batch.Round6(c.Score)})
	}
	for _, m := range metrics {
		resp.SelectedMetrics = append(resp.SelectedMetrics, m.Name())
		resp.BestSeedResults[m.Name()] = &metricReport{MetricType: m.Kind.String()}
	}
	for _, row := range final.Assignment.Report {
		if rep, ok := resp.BestSeedResults[row.Metric]; ok {
			rep.Tests = append(rep.Tests, row)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) searchConfig(req rerandomizationRequest) seedfinder.Config {
	iterations := req.Iterations
	if iterations == 0 {
		iterations = s.cfg.Search.Iterations
	}
	iterations = min(iterations, s.cfg.Server.MaxIterations)

	alpha := req.Alpha
	if alpha == 0 {
		alpha = s.cfg.Stats.Alpha
	}
	bh := s.cfg.Stats.BHCorrection
	if req.BHCorrection != nil {
		bh = *req.BHCorrection
	}
	return seedfinder.Config{
		Iterations: iterations,
		Workers:    s.cfg.Search.Workers,
		Timeout:    time.Duration(s.cfg.Search.TimeoutSecs) * time.Second,
		TopN:       s.cfg.Search.TopN,
		Alpha:      alpha,
		Sidedness:  stattest.Sidedness(s.cfg.Stats.Sidedness),
		BH:         bh,
	}
}

func (s *Server) finderOptions() []seedfinder.Option {
	if s.collector == nil {
		return nil
	}
	return []seedfinder.Option{seedfinder.WithObserver(s.collector)}
}

var keyCleaner = strings.NewReplacer(`\`, "", `"`, "")

// requestMetrics resolves selectedMetrics entries. A string is a column,
// or a ratio when it reads "num/den"; a two-element array is a ratio.
// metricTypes keys may arrive with stray escaping and are cleaned first.
func requestMetrics(selected []json.RawMessage, types map[string]string) ([]stattest.Metric, error) {
	clean := make(map[string]string, len(types))
	for _, k := range slices.Sorted(maps.Keys(types)) {
		if _, err := stattest.ParseKind(types[k]); err != nil {
			return nil, eris.Wrapf(err, "metric type for %s", k)
		}
		clean[keyCleaner.Replace(k)] = types[k]
	}

	metrics := make([]stattest.Metric, 0, len(selected))
	for _, raw := range selected {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			name = keyCleaner.Replace(name)
			kind := clean[name]
			if kind == "" && strings.Contains(name, "/") {
				kind = "ratio"
			}
			m, err := stattest.ParseMetric(name, kind)
			if err != nil {
				return nil, err
			}
			metrics = append(metrics, m)
			continue
		}

		var pair []string
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, experr.Configf("selected metric %s must be a column name or a [numerator, denominator] pair", string(raw))
		}
		m, err := stattest.RatioPair(pair)
		if err != nil {
			return nil, err
		}
		kind := clean["["+m.Numerator+", "+m.Denominator+"]"]
		if kind == "" {
			kind = clean[m.Name()]
		}
		if k, _ := stattest.ParseKind(kind); kind != "" && k != stattest.KindRatio {
			return nil, experr.Configf("metric pair %s declared as %s, want ratio", m.Name(), kind)
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func availableMetrics(ds *dataset.Dataset) []string {
	var out []string
	for _, col := range ds.Columns() {
		if !slices.Contains(reservedColumns, col) {
			out = append(out, col)
		}
	}
	return out
}
