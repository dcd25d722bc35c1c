package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/ski-resort-crawler/internal/extract"
	"github.com/JakeFAU/ski-resort-crawler/internal/model"
	"github.com/JakeFAU/ski-resort-crawler/internal/patternbank"
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
)

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspects and curates the extraction pattern bank",
	}
	cmd.AddCommand(newPatternsListCmd(), newPatternsAddCmd())
	return cmd
}

type patternDoc struct {
	Field      string  `yaml:"field"`
	Source     string  `yaml:"source"`
	Confidence float64 `yaml:"confidence"`
	Pattern    string  `yaml:"pattern"`
}

func newPatternsListCmd() *cobra.Command {
	var fieldName, format string
	var storedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists ranked patterns per field",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if format != formatTable && format != formatYAML {
				return fmt.Errorf("unknown format %q (want table or yaml)", format)
			}
			fields := model.AllFields()
			if fieldName != "" {
				f, ok := model.ParseField(fieldName)
				if !ok {
					return fmt.Errorf("unknown field %q", fieldName)
				}
				fields = []model.Field{f}
			}

			st, err := openStore(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var patterns []model.ExtractionPattern
			if storedOnly {
				for _, f := range fields {
					rows, err := st.ListPatterns(cmd.Context(), f)
					if err != nil {
						return fmt.Errorf("list patterns for %s: %w", f, err)
					}
					patterns = append(patterns, rows...)
				}
			} else {
				bank := patternbank.New(st, extract.DefaultPatterns(), e.logger.Named("patternbank"))
				for _, f := range fields {
					for _, c := range bank.Patterns(cmd.Context(), f) {
						patterns = append(patterns, c.ExtractionPattern)
					}
				}
			}

			if format == formatYAML {
				docs := make([]patternDoc, 0, len(patterns))
				for _, p := range patterns {
					docs = append(docs, patternDoc{
						Field: string(p.Field), Source: string(p.Source), Confidence: p.Confidence, Pattern: p.Pattern,
					})
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(docs); err != nil {
					return fmt.Errorf("encode yaml: %w", err)
				}
				return enc.Close()
			}
			renderPatterns(cmd.OutOrStdout(), patterns)
			return nil
		},
	}
	cmd.Flags().StringVar(&fieldName, "field", "", "only list this field")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format: table or yaml")
	cmd.Flags().BoolVar(&storedOnly, "stored-only", false, "skip the built-in defaults")
	return cmd
}

func newPatternsAddCmd() *cobra.Command {
	var fieldName, pattern string
	var confidence float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Persists a curated pattern for a field",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			field, ok := model.ParseField(fieldName)
			if !ok {
				return fmt.Errorf("unknown field %q", fieldName)
			}
			if confidence <= 0 || confidence > 1 {
				return fmt.Errorf("confidence must be in (0, 1], got %v", confidence)
			}

			st, err := openStore(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			bank := patternbank.New(st, extract.DefaultPatterns(), e.logger.Named("patternbank"))
			stored, created, err := bank.Add(cmd.Context(), model.ExtractionPattern{
				Field:      field,
				Pattern:    pattern,
				Source:     model.SourceSeed,
				Confidence: confidence,
			})
			if err != nil {
				return fmt.Errorf("add pattern: %w", err)
			}
			switch {
			case created:
				fmt.Fprintf(cmd.OutOrStdout(), "added %s pattern %s\n", field, stored.ID)
			case strings.HasPrefix(stored.ID, "default:"):
				fmt.Fprintf(cmd.OutOrStdout(), "%s pattern is a built-in default\n", field)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s pattern already stored as %s\n", field, stored.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fieldName, "field", "", "field the pattern extracts")
	cmd.Flags().StringVar(&pattern, "pattern", "", "regular expression; the first capture group is the value")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.7, "ranking confidence in (0, 1]")
	_ = cmd.MarkFlagRequired("field")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}
