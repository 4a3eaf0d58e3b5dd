package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/abtest-cli/internal/bucket"
	"github.com/sells-group/abtest-cli/internal/plan"
)

var (
	bucketSeed     string
	bucketPlanPath string
)

var bucketCmd = &cobra.Command{
	Use:   "bucket --seed SEED ID...",
	Short: "Print the hash bucket (and group, with --plan) of each unit id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var props bucket.Proportions
		if bucketPlanPath != "" {
			p, err := plan.Load(bucketPlanPath)
			if err != nil {
				return err
			}
			props = p.Proportions
		}
		return printBuckets(cmd.OutOrStdout(), bucketSeed, args, props)
	},
}

func printBuckets(out io.Writer, seed string, ids []string, props bucket.Proportions) error {
	var a *bucket.Assigner
	if len(props) > 0 {
		var err error
		if a, err = bucket.NewAssigner(props); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if a != nil {
		_, _ = fmt.Fprintln(w, "ID\tBUCKET\tGROUP")
	} else {
		_, _ = fmt.Fprintln(w, "ID\tBUCKET")
	}
	for _, id := range ids {
		b := bucket.Bucket(seed, id)
		if a != nil {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", id, b, a.Label(b))
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", id, b)
	}
	return w.Flush()
}

func init() {
	bucketCmd.Flags().StringVar(&bucketSeed, "seed", "", "assignment seed (required)")
	bucketCmd.Flags().StringVar(&bucketPlanPath, "plan", "", "experiment plan YAML, to also print each unit's group")
	_ = bucketCmd.MarkFlagRequired("seed")
	rootCmd.AddCommand(bucketCmd)
}
