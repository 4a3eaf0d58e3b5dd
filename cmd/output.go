package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/abtest-cli/internal/batch"
	"github.com/sells-group/abtest-cli/internal/samplesize"
	"github.com/sells-group/abtest-cli/internal/seedfinder"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return eris.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

// writeStructured encodes v as indented JSON or YAML.
func writeStructured(out io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return checkFormat(format)
	}
}

// formatReport writes a significance report as a table.
func formatReport(out io.Writer, rows []batch.Row) {
	bh := false
	for _, r := range rows {
		if r.AdjustedP != nil {
			bh = true
			break
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header := "TREATMENT\tMETRIC\tTYPE\tCONTROL\tTREATED\tREL_DIFF\tT\tP\tSIG"
	if bh {
		header += "\tP_BH\tSIG_BH"
	}
	_, _ = fmt.Fprintln(w, header)

	for _, r := range rows {
		if r.Result == nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\terror: %s\n", r.Treatment, r.Metric, r.Kind, r.Error)
			continue
		}
		res := r.Result
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s",
			r.Treatment, r.Metric, r.Kind,
			num(res.ControlValue), num(res.TreatedValue),
			pctOrDash(res.RelativeDiff), num(res.TStatistic), num(res.PValue), yesNo(res.Significant),
		)
		if bh {
			if r.AdjustedP != nil {
				line += fmt.Sprintf("\t%s\t%s", num(*r.AdjustedP), yesNo(*r.SignificantBH))
			} else {
				line += "\t-\t-"
			}
		}
		_, _ = fmt.Fprintln(w, line)
	}
	_ = w.Flush()
}

// formatOutcome writes a search summary and its top candidates.
func formatOutcome(out io.Writer, o *seedfinder.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", o.RunID)
	_, _ = fmt.Fprintf(w, "Best seed:\t%s\n", o.Best.Seed)
	_, _ = fmt.Fprintf(w, "Max |t|:\t%s\n", num(o.Best.Score))
	_, _ = fmt.Fprintf(w, "Attempted:\t%d\n", o.Attempted)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", o.Failed)
	if o.Cancelled {
		_, _ = fmt.Fprintf(w, "Cancelled:\tyes\n")
	}
	_, _ = fmt.Fprintf(w, "Control:\t%s\n", o.Control)
	_, _ = fmt.Fprintf(w, "Treatments:\t%s\n", strings.Join(o.Treatments, ", "))
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tSEED\tMAX_ABS_T")
	for i, c := range o.Top {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, c.Seed, num(c.Score))
	}
	_ = w.Flush()
}

// formatGroupCounts writes how many units each group received.
func formatGroupCounts(out io.Writer, groups []string, labels []string) {
	counts := make(map[string]int, len(groups))
	for _, l := range labels {
		counts[l]++
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "GROUP\tUNITS")
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", g, counts[g])
	}
	_ = w.Flush()
}

// formatRequirements writes sample-size rows as a table.
func formatRequirements(out io.Writer, rows []samplesize.Requirement) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tMDE\tCONTROL\tTREATMENT\tTOTAL\tDAYS")
	for _, r := range rows {
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "%s\t%s\terror: %s\n", r.Metric, pct(r.MDE), r.Error)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", r.Metric, pct(r.MDE), r.Control, r.Treatment, r.Total, r.Days)
	}
	_ = w.Flush()
}

// writeLabels writes one (unit id, group) row per unit as CSV.
func writeLabels(path, idColumn, groupColumn string, ids, labels []string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	if err := encodeLabels(f, idColumn, groupColumn, ids, labels); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

func encodeLabels(out io.Writer, idColumn, groupColumn string, ids, labels []string) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{idColumn, groupColumn}); err != nil {
		return err
	}
	for i, id := range ids {
		if err := w.Write([]string{id, labels[i]}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func num(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Sprint(f)
	}
	return fmt.Sprintf("%.4f", f)
}

func pct(f float64) string {
	return fmt.Sprintf("%.2f%%", f*100)
}

func pctOrDash(f *float64) string {
	if f == nil {
		return "-"
	}
	return pct(*f)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
