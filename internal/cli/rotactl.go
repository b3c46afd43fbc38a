// Package cli implements rotactl, an offline client for the rotation engine
// that works directly on a dataset file.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"crop-rotation/internal/dataset"
	"crop-rotation/internal/rotation"
	"crop-rotation/pkg/logging"
	"crop-rotation/pkg/metrics"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

type rootOptions struct {
	datasetPath string
	output      string
	logLevel    string
}

type recommendOptions struct {
	query rotation.Query
}

// NewRootCommand builds the rotactl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "rotactl",
		Short:         "Query crop rotation recommendations from a dataset file",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != OutputTable && opts.output != OutputJSON {
				return fmt.Errorf("--output must be %q or %q, got %q", OutputTable, OutputJSON, opts.output)
			}
			if _, err := logging.ParseLevel(opts.logLevel); err != nil {
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.datasetPath, "dataset", "data/crop_soil.csv", "CSV dataset to build aggregates from")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", OutputTable, "Output format: table|json")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "error", "Log level for dataset loading")

	root.AddCommand(
		newRecommendCmd(opts),
		newSoilsCmd(opts),
		newCropsCmd(opts),
		newCropCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

// Execute runs rotactl with os.Args.
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

func loadAggregates(ctx context.Context, opts *rootOptions) (*rotation.Aggregates, error) {
	level, _ := logging.ParseLevel(opts.logLevel)
	logger := logging.NewStructuredLogger("rotactl", "1.0.0", level)
	logger.SetOutput(os.Stderr)

	source := dataset.NewCSVSource(opts.datasetPath, logger, metrics.NewCollector("rotactl", nil))
	rows, err := source.LoadObservations(ctx)
	if err != nil {
		return nil, err
	}
	return rotation.Build(rows)
}

func newRecommendCmd(root *rootOptions) *cobra.Command {
	opts := &recommendOptions{}
	q := &opts.query

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Rank the next crops for a field",
		Example: "  rotactl recommend --current-crop Paddy --soil Clayey \\\n" +
			"    --temperature 30 --humidity 60 --moisture 45 --nitrogen 12",
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, err := loadAggregates(cmd.Context(), root)
			if err != nil {
				return err
			}
			recs, err := agg.Recommend(*q, rotation.DefaultLimits())
			if err != nil {
				return err
			}
			return printRecommendations(cmd.OutOrStdout(), root.output, *q, recs)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&q.CurrentCrop, "current-crop", "", "Crop currently in the field")
	flags.StringVar(&q.SoilType, "soil", "", "Soil type")
	flags.Float64Var(&q.Temperature, "temperature", 0, "Temperature in degrees Celsius")
	flags.Float64Var(&q.Humidity, "humidity", 0, "Relative humidity")
	flags.Float64Var(&q.Moisture, "moisture", 0, "Soil moisture")
	flags.Float64Var(&q.Nitrogen, "nitrogen", 0, "Soil nitrogen")
	flags.Float64Var(&q.Phosphorous, "phosphorous", 0, "Soil phosphorous")
	flags.Float64Var(&q.Potassium, "potassium", 0, "Soil potassium")
	flags.IntVar(&q.TopK, "top-k", rotation.DefaultTopK, "Maximum number of recommendations")
	_ = cmd.MarkFlagRequired("current-crop")
	_ = cmd.MarkFlagRequired("soil")

	return cmd
}

func newSoilsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "soils",
		Short: "List soil types and the crops grown on them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, err := loadAggregates(cmd.Context(), root)
			if err != nil {
				return err
			}

			type soil struct {
				SoilType string   `json:"soil_type"`
				Crops    []string `json:"crops"`
			}
			soils := make([]soil, 0, len(agg.Soils()))
			for _, s := range agg.Soils() {
				soils = append(soils, soil{SoilType: s, Crops: agg.Candidates(s)})
			}

			out := cmd.OutOrStdout()
			if root.output == OutputJSON {
				return writeJSON(out, soils)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SOIL\tCROPS")
			for _, s := range soils {
				fmt.Fprintf(tw, "%s\t%s\n", s.SoilType, strings.Join(s.Crops, ", "))
			}
			return tw.Flush()
		},
	}
}

func newCropsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crops",
		Short: "List every crop with its nutrient bias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, err := loadAggregates(cmd.Context(), root)
			if err != nil {
				return err
			}

			profiles := make([]rotation.CropProfile, 0, len(agg.Crops()))
			for _, crop := range agg.Crops() {
				if p, ok := agg.Profile(crop); ok {
					profiles = append(profiles, p)
				}
			}

			out := cmd.OutOrStdout()
			if root.output == OutputJSON {
				return writeJSON(out, profiles)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CROP\tBIAS\tNITROGEN FIXING\tSOILS")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Crop, p.Bias, p.Legume, strings.Join(p.Soils, ", "))
			}
			return tw.Flush()
		},
	}
}

func newCropCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "crop <name>",
		Short: "Show the nutrient bias and environment band of a crop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agg, err := loadAggregates(cmd.Context(), root)
			if err != nil {
				return err
			}
			profile, ok := agg.Profile(args[0])
			if !ok {
				return fmt.Errorf("crop %q not found in %s", args[0], root.datasetPath)
			}

			out := cmd.OutOrStdout()
			if root.output == OutputJSON {
				return writeJSON(out, profile)
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "Crop:\t%s\n", profile.Crop)
			fmt.Fprintf(tw, "Nutrient bias:\t%s\n", profile.Bias)
			fmt.Fprintf(tw, "Nitrogen fixing:\t%t\n", profile.Legume)
			fmt.Fprintf(tw, "Soil types:\t%s\n", strings.Join(profile.Soils, ", "))
			fmt.Fprintf(tw, "Temperature:\t%g - %g\n", profile.Band.Temperature.Min, profile.Band.Temperature.Max)
			fmt.Fprintf(tw, "Moisture:\t%g - %g\n", profile.Band.Moisture.Min, profile.Band.Moisture.Max)
			fmt.Fprintf(tw, "Humidity:\t%g - %g\n", profile.Band.Humidity.Min, profile.Band.Humidity.Max)
			return tw.Flush()
		},
	}
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse the dataset and report rejected rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(root.datasetPath)
			if err != nil {
				return err
			}
			defer f.Close()

			result, err := dataset.Parse(f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if root.output == OutputJSON {
				rejected := make([]string, len(result.Rejected))
				for i, r := range result.Rejected {
					rejected[i] = r.Error()
				}
				return writeJSON(out, map[string]any{
					"total_rows": result.TotalRows,
					"accepted":   len(result.Observations),
					"rejected":   rejected,
				})
			}

			fmt.Fprintf(out, "Rows:     %d\n", result.TotalRows)
			fmt.Fprintf(out, "Accepted: %d\n", len(result.Observations))
			fmt.Fprintf(out, "Rejected: %d\n", len(result.Rejected))
			for _, r := range result.Rejected {
				fmt.Fprintf(out, "  - %s\n", r.Error())
			}
			return nil
		},
	}
}

func printRecommendations(w io.Writer, format string, q rotation.Query, recs []rotation.Recommendation) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{
			"recommendations": recs,
			"current_crop":    q.CurrentCrop,
			"soil_type":       q.SoilType,
		})
	}

	if len(recs) == 0 {
		_, err := fmt.Fprintf(w, "No candidates for soil type %q\n", q.SoilType)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tCROP\tSCORE\tSUITABILITY\tREASON")
	for i, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%d\t%s\n", i+1, r.Crop, r.Score, r.SuitabilityScore, r.Reason)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
