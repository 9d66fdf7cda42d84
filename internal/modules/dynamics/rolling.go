package dynamics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/marketgraph/internal/domain"
	"github.com/aristath/marketgraph/internal/modules/clustering"
	"github.com/aristath/marketgraph/internal/progress"
	"github.com/aristath/marketgraph/internal/provenance"
	"github.com/aristath/marketgraph/internal/utils"
)

// WindowEnds returns the exclusive end index of every window of length window, stepping
// back by step from nDates and listed in chronological order. It is empty when the
// window does not fit.
func WindowEnds(nDates, window, step int) []int {
	if window <= 0 || step <= 0 || window > nDates {
		return nil
	}
	var ends []int
	for end := nDates; end-window >= 0; end -= step {
		ends = append(ends, end)
	}
	for i, j := 0, len(ends)-1; i < j; i, j = i+1, j-1 {
		ends[i], ends[j] = ends[j], ends[i]
	}
	return ends
}

// RollingOptions configures a rolling-window run.
type RollingOptions struct {
	Window   int             `json:"window" msgpack:"window"`
	Step     int             `json:"step" msgpack:"step"`
	Pipeline PipelineOptions `json:"pipeline" msgpack:"pipeline"`
	// KeepReturns stores the raw window returns on each record.
	KeepReturns bool `json:"keep_returns" msgpack:"keep_returns"`
}

// Validate checks the options without looking at data.
func (o RollingOptions) Validate() error {
	if o.Window < 2 {
		return fmt.Errorf("%w: window must be at least 2 observations, got %d", domain.ErrInvalidConfiguration, o.Window)
	}
	if o.Step < 1 {
		return fmt.Errorf("%w: step must be positive, got %d", domain.ErrInvalidConfiguration, o.Step)
	}
	return o.Pipeline.Validate()
}

// WindowResult is the pipeline output for one window.
type WindowResult struct {
	Index int `json:"index"`
	// Start and End delimit the observations [Start, End).
	Start int    `json:"start"`
	End   int    `json:"end"`
	Date  string `json:"date"`
	// Returns is the raw window; nil unless KeepReturns is set.
	Returns *mat.Dense `json:"-"`
	Snapshot
}

// RollingResult is a time-indexed series of window results.
type RollingResult struct {
	Windows    []WindowResult    `json:"windows"`
	Provenance provenance.Record `json:"provenance"`
}

// ByDate returns the window results keyed by their end date.
func (r *RollingResult) ByDate() map[string]*WindowResult {
	out := make(map[string]*WindowResult, len(r.Windows))
	for i := range r.Windows {
		out[r.Windows[i].Date] = &r.Windows[i]
	}
	return out
}

// RollingDriver re-runs the pipeline on trailing windows of a return history.
type RollingDriver struct {
	log     zerolog.Logger
	dbht    clustering.DBHTOracle
	emitter progress.Emitter
}

// NewRollingDriver creates a driver. dbht may be nil unless a DBHT method is used;
// emitter may be nil.
func NewRollingDriver(log zerolog.Logger, dbht clustering.DBHTOracle, emitter progress.Emitter) *RollingDriver {
	return &RollingDriver{
		log:     log.With().Str("component", "rolling_driver").Logger(),
		dbht:    dbht,
		emitter: emitter,
	}
}

// Run computes one result per window. dates labels the observations and may be nil, in
// which case windows are labelled by their end index. A history shorter than the window
// gives an empty result.
func (d *RollingDriver) Run(ctx context.Context, returns mat.Matrix, dates []string, opts RollingOptions) (*RollingResult, error) {
	opts.Pipeline = opts.Pipeline.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if returns == nil {
		return nil, fmt.Errorf("%w: returns are required", domain.ErrInvalidConfiguration)
	}
	n, _ := returns.Dims()
	if dates != nil && len(dates) != n {
		return nil, fmt.Errorf("%w: %d dates for %d observations", domain.ErrDimensionMismatch, len(dates), n)
	}

	rec, err := provenance.New("rolling", opts, returns)
	if err != nil {
		return nil, err
	}
	res := &RollingResult{Provenance: rec}

	ends := WindowEnds(n, opts.Window, opts.Step)
	if len(ends) == 0 {
		d.log.Warn().Int("observations", n).Int("window", opts.Window).Msg("No window fits the history")
		return res, nil
	}

	timer := utils.NewTimer("rolling", d.log)
	reporter := progress.NewReporter(d.emitter, rec.RunID, "rolling", len(ends))
	reporter.Start()

	full := mat.DenseCopyOf(returns)
	_, p := full.Dims()
	pl := newPipeline(opts.Pipeline, d.log, d.dbht)
	windows := make([]WindowResult, len(ends))

	err = forEach(ctx, len(ends), opts.Pipeline.Workers, func(_ context.Context, w int) error {
		end := ends[w]
		start := end - opts.Window
		block := full.Slice(start, end, 0, p)

		snap, err := pl.run(block)
		if err != nil {
			return fmt.Errorf("window ending at %d: %w", end, err)
		}

		wr := WindowResult{
			Index:    w,
			Start:    start,
			End:      end,
			Date:     windowLabel(dates, end),
			Snapshot: *snap,
		}
		if opts.KeepReturns {
			wr.Returns = mat.DenseCopyOf(block)
		}
		windows[w] = wr
		reporter.Done(wr.Date)
		return nil
	})
	reporter.Finish(err)
	if err != nil {
		return nil, err
	}
	res.Windows = windows

	timer.StopWithFields(map[string]any{
		"windows": len(windows),
		"mode":    string(opts.Pipeline.Mode),
	})
	return res, nil
}

func windowLabel(dates []string, end int) string {
	if dates == nil {
		return strconv.Itoa(end)
	}
	return dates[end-1]
}
