package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/catalog"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/config"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/matcher"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/output"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

var findCmd = &cobra.Command{
	Use:   "find <query>",
	Short: "Search the source catalogs by name",
	Long: `Search every configured source, or one with --source, for items whose
name resembles the query. Matching ignores case, accents and punctuation
and tolerates typos. Use it to check the names listed under a content
type's wanted items.

Examples:
  dpsync find "blade runner"
  dpsync find amelie --source nas --limit 5
  dpsync find dune -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runFind,
}

var (
	findSource    string
	findLimit     int
	findThreshold float64
	findFormat    string
)

func init() {
	findCmd.Flags().StringVar(&findSource, "source", "", "search only this source")
	findCmd.Flags().IntVarP(&findLimit, "limit", "l", 10, "maximum number of matches")
	findCmd.Flags().Float64Var(&findThreshold, "threshold", config.DefaultMatchThreshold, "minimum similarity in (0, 1]")
	findCmd.Flags().StringVarP(&findFormat, "output", "o", "text", "output format: text, json")
	rootCmd.AddCommand(findCmd)
}

func runFind(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	items, err := listSources(ctx, cfg, findSource)
	if err != nil {
		return err
	}
	matches := matcher.FindBestMatch(args[0], items, findThreshold, findLimit)
	return renderMatches(os.Stdout, findFormat, matches)
}

// listSources lists the named source, or every source concurrently.
func listSources(ctx context.Context, cfg *config.Config, name string) ([]types.CatalogItem, error) {
	specs := cfg.Sources
	if name != "" {
		s, ok := cfg.Source(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		specs = []catalog.Spec{s}
	}

	reg := retry.NewRegistry(cfg.Breaker)
	policy := cfg.RetryPolicy()

	var mu sync.Mutex
	lists := make([][]types.CatalogItem, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		g.Go(func() error {
			a, err := catalog.New(spec, reg, policy)
			if err != nil {
				return err
			}
			list, err := a.List(gctx)
			if err != nil {
				return fmt.Errorf("listing %s: %w", spec.Name, err)
			}
			printVerbose("%s: %d items", spec.Name, len(list))
			mu.Lock()
			lists[i] = list
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []types.CatalogItem
	for _, l := range lists {
		items = append(items, l...)
	}
	return items, nil
}

func renderMatches(w io.Writer, format string, matches []matcher.Candidate) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "", "text":
	default:
		return fmt.Errorf("unknown output format %q: use text or json", format)
	}

	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, output.MutedStyle.Render("no matches"))
		return err
	}
	for _, m := range matches {
		_, err := fmt.Fprintf(w, "%s  %s  %s  %s\n",
			output.SizeStyle.Render(fmt.Sprintf("%4.0f%%", m.Score*100)),
			output.PathStyle.Render(m.Item.Name),
			output.MutedStyle.Render(m.Item.Source+":"+m.Item.ID),
			output.LabelStyle.Render(types.FormatSize(m.Item.Size)))
		if err != nil {
			return err
		}
	}
	return nil
}
