// Package seedfinder searches for a group-assignment seed that minimizes the
// worst baseline imbalance across metrics and treatment-versus-control pairs.
package seedfinder

import (
	"cmp"
	"context"
	"math/rand/v2"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/dataset"
	"github.com/sells-group/abtest-cli/internal/experr"
	"github.com/sells-group/abtest-cli/internal/stattest"
)

// ErrSearchExhausted is returned when every candidate seed failed.
var ErrSearchExhausted = eris.New("seedfinder: every candidate seed failed")

const (
	defaultTopN  = 3
	seedPrefix   = "rr"
	seedMaxValue = 1_000_000
)

// Config controls a search.
type Config struct {
	Iterations int
	Workers    int           // 0 means GOMAXPROCS
	Timeout    time.Duration // 0 means no deadline
	TopN       int           // 0 means 3
	Alpha      float64
	Sidedness  stattest.Sidedness
	BH         bool // correct the final report with Benjamini-Hochberg
}

// Input is the experiment a seed is chosen for.
type Input struct {
	Dataset     *dataset.Dataset
	Metrics     []stattest.Metric
	Proportions bucket.Proportions
	Control     string // empty selects by name, then first group
}

// Candidate is a scored seed.
type Candidate struct {
	Seed  string  `json:"seed" yaml:"seed"`
	Score float64 `json:"score" yaml:"score"`
}

// Outcome summarizes a search. Scores holds every successful candidate's
// score in submission order.
type Outcome struct {
	RunID      string      `json:"run_id" yaml:"run_id"`
	Best       Candidate   `json:"best" yaml:"best"`
	Top        []Candidate `json:"top" yaml:"top"`
	Scores     []float64   `json:"scores" yaml:"scores"`
	Attempted  int         `json:"attempted" yaml:"attempted"`
	Failed     int         `json:"failed" yaml:"failed"`
	Cancelled  bool        `json:"cancelled" yaml:"cancelled"`
	Control    string      `json:"control" yaml:"control"`
	Treatments []string    `json:"treatments" yaml:"treatments"`
}

// Assignment is a seed replayed over the dataset: one label per unit plus
// the significance report for that split.
type Assignment struct {
	Seed   string      `json:"seed" yaml:"seed"`
	Labels []string    `json:"labels" yaml:"labels"`
	Report []batch.Row `json:"report" yaml:"report"`
}

// Final is a completed search with its winning assignment.
type Final struct {
	*Outcome
	Assignment *Assignment `json:"assignment" yaml:"assignment"`
}

// Observer receives search progress. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveCandidate(ok bool)
	ObserveSearch(o *Outcome, elapsed time.Duration, err error)
}

// Option configures a Finder.
type Option func(*Finder)

// WithObserver attaches a progress observer.
func WithObserver(obs Observer) Option {
	return func(f *Finder) { f.observer = obs }
}

// Finder runs seed searches. Seeds are drawn from its generator, so a
// Finder built with a fixed generator reproduces its searches exactly.
type Finder struct {
	cfg      Config
	mu       sync.Mutex
	rng      *rand.Rand
	observer Observer
}

// New creates a Finder. A nil rng draws from a randomly seeded generator.
func New(cfg Config, rng *rand.Rand, opts ...Option) *Finder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = stattest.DefaultAlpha
	}
	if cfg.Sidedness == "" {
		cfg.Sidedness = stattest.TwoSided
	}
	f := &Finder{cfg: cfg, rng: rng}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// plan is an Input resolved once before any hashing.
type plan struct {
	assigner   *bucket.Assigner
	control    string
	treatments []string
}

func (f *Finder) resolve(in Input) (*plan, error) {
	if in.Dataset == nil {
		return nil, experr.Configf("no dataset")
	}
	assigner, err := bucket.NewAssigner(in.Proportions)
	if err != nil {
		return nil, err
	}
	control, err := in.Proportions.ControlLabel(in.Control)
	if err != nil {
		return nil, err
	}
	treatments := in.Proportions.TreatmentLabels(control)
	if len(treatments) == 0 {
		return nil, experr.Configf("proportions need at least one treatment group besides %q", control)
	}
	if len(in.Metrics) == 0 {
		return nil, experr.Configf("no metrics to balance")
	}
	for _, m := range in.Metrics {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if err := in.Dataset.Require(m.Columns()...); err != nil {
			return nil, err
		}
	}
	return &plan{assigner: assigner, control: control, treatments: treatments}, nil
}

// runner scores candidates: fail-fast, never corrected, since BH does not
// change t statistics.
func (f *Finder) runner() batch.Runner {
	return batch.Runner{Alpha: f.cfg.Alpha, Sidedness: f.cfg.Sidedness}
}

func (f *Finder) drawSeeds(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	seeds := make([]string, n)
	for i := range seeds {
		seeds[i] = seedPrefix + strconv.Itoa(f.rng.IntN(seedMaxValue))
	}
	return seeds
}

type slot struct {
	done  bool
	score float64
	err   error
}

// Search scores cfg.Iterations candidate seeds and selects the one with the
// smallest maximum |t|. Candidates that hit a data error are skipped. On
// cancellation or timeout it returns the best candidate found so far.
func (f *Finder) Search(ctx context.Context, in Input) (*Outcome, error) {
	start := time.Now()
	out, err := f.search(ctx, in)
	if f.observer != nil {
		f.observer.ObserveSearch(out, time.Since(start), err)
	}
	return out, err
}

func (f *Finder) search(ctx context.Context, in Input) (*Outcome, error) {
	if f.cfg.Iterations < 1 {
		return nil, experr.Configf("iterations must be at least 1, got %d", f.cfg.Iterations)
	}
	p, err := f.resolve(in)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("seedfinder: search started",
		zap.Int("iterations", f.cfg.Iterations),
		zap.Int("workers", f.cfg.Workers),
		zap.Int("units", in.Dataset.Len()),
		zap.Int("metrics", len(in.Metrics)),
	)

	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	seeds := f.drawSeeds(f.cfg.Iterations)
	slots := make([]slot, len(seeds))
	runner := f.runner()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers)

	for i, seed := range seeds {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			labels := p.assigner.AssignAll(seed, in.Dataset.IDs)
			rows, err := runner.Run(in.Dataset, labels, in.Metrics, p.control, p.treatments)
			if err != nil {
				if !experr.IsData(err) {
					return eris.Wrapf(err, "seedfinder: candidate %s", seed)
				}
				log.Debug("seedfinder: candidate skipped", zap.String("seed", seed), zap.Error(err))
				slots[i] = slot{done: true, err: err}
				f.observeCandidate(false)
				return nil
			}
			slots[i] = slot{done: true, score: batch.MaxAbsT(rows)}
			f.observeCandidate(true)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Outcome{RunID: runID, Control: p.control, Treatments: p.treatments}
	if n := tally(out, seeds, slots, f.cfg.TopN); n == 0 {
		if out.Cancelled {
			log.Warn("seedfinder: cancelled before any candidate finished", zap.Error(ctx.Err()))
			return nil, ctx.Err()
		}
		return nil, eris.Wrapf(ErrSearchExhausted, "%d attempts", out.Attempted)
	}

	if out.Cancelled {
		log.Warn("seedfinder: search stopped early",
			zap.Int("attempted", out.Attempted),
			zap.Int("iterations", len(seeds)),
			zap.Error(ctx.Err()),
		)
	}
	for rank, c := range out.Top {
		log.Info("seedfinder: top candidate",
			zap.Int("rank", rank+1),
			zap.String("seed", c.Seed),
			zap.Float64("max_abs_t", c.Score),
		)
	}
	log.Info("seedfinder: seed selected",
		zap.String("seed", out.Best.Seed),
		zap.Float64("max_abs_t", out.Best.Score),
		zap.Int("attempted", out.Attempted),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

// tally reduces finished slots in submission order. The first candidate
// wins ties. It returns the number of successful candidates.
func tally(out *Outcome, seeds []string, slots []slot, topN int) int {
	var candidates []Candidate
	for i, s := range slots {
		if !s.done {
			continue
		}
		out.Attempted++
		if s.err != nil {
			out.Failed++
			continue
		}
		c := Candidate{Seed: seeds[i], Score: s.score}
		candidates = append(candidates, c)
		out.Scores = append(out.Scores, s.score)
		if len(candidates) == 1 || c.Score < out.Best.Score {
			out.Best = c
		}
	}
	out.Cancelled = out.Attempted < len(seeds)
	if len(candidates) == 0 {
		return 0
	}

	slices.SortStableFunc(candidates, func(a, b Candidate) int {
		return cmp.Compare(a.Score, b.Score)
	})
	out.Top = candidates[:min(topN, len(candidates))]
	return len(candidates)
}

func (f *Finder) observeCandidate(ok bool) {
	if f.observer != nil {
		f.observer.ObserveCandidate(ok)
	}
}

// Run searches and then replays the winning seed into the final labels and
// significance report.
func (f *Finder) Run(ctx context.Context, in Input) (*Final, error) {
	out, err := f.Search(ctx, in)
	if err != nil {
		return nil, err
	}
	a, err := f.Apply(in, out.Best.Seed)
	if err != nil {
		return nil, eris.Wrapf(err, "seedfinder: replay %s", out.Best.Seed)
	}
	return &Final{Outcome: out, Assignment: a}, nil
}

// Apply replays a stored seed. Data errors in the report land on their rows.
func (f *Finder) Apply(in Input, seed string) (*Assignment, error) {
	p, err := f.resolve(in)
	if err != nil {
		return nil, err
	}
	labels := p.assigner.AssignAll(seed, in.Dataset.IDs)

	r := f.runner()
	r.BH = f.cfg.BH
	rows, err := r.Report(in.Dataset, labels, in.Metrics, p.control, p.treatments)
	if err != nil {
		return nil, err
	}
	return &Assignment{Seed: seed, Labels: labels, Report: rows}, nil
}
