package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/propolis-ai/annotator/pkg/models"
	"github.com/propolis-ai/annotator/pkg/vector"
)

func newItemsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage the statements to annotate",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Add one item per non-empty line of file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrap(err, "open items file")
				}
				defer f.Close()
				r = f
			}
			items, err := readItems(r)
			if err != nil {
				return err
			}

			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := a.store.AddItems(cmd.Context(), items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d of %d items.\n", added, len(items))
			return nil
		},
	})
	return cmd
}

// readItems returns one item per non-blank line.
func readItems(r io.Reader) ([]models.Item, error) {
	var items []models.Item
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		items = append(items, models.Item{Text: line})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read items")
	}
	return items, nil
}

func newFlagsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "flags",
		Short: "List items held back by moderation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			flags, err := a.store.Flags(cmd.Context())
			if err != nil {
				return err
			}
			return writeFlags(cmd.OutOrStdout(), flags)
		},
	}
}

func writeFlags(out io.Writer, flags []models.FlagRecord) error {
	if len(flags) == 0 {
		_, err := fmt.Fprintln(out, "No flagged items.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tSTATE\tCATEGORIES\tSINCE")
	for _, f := range flags {
		var cats []string
		for _, c := range f.Categories {
			if c.Value {
				cats = append(cats, c.Name)
			}
		}
		list := strings.Join(cats, ",")
		if list == "" {
			list = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", f.ItemID, f.State, list, f.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func newEmbeddingCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embedding",
		Short: "Inspect stored embeddings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <item-id>",
		Short: "Print the embedding of an item as a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Newf("invalid item id %q", args[0])
			}
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.Embedding(cmd.Context(), id)
			if err != nil {
				return err
			}
			data, err := vector.EncodeJSON(rec.Vector)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	var limit int
	similar := &cobra.Command{
		Use:   "similar <item-id>",
		Short: "List the items whose embeddings are closest to an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Newf("invalid item id %q", args[0])
			}
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			rec, err := a.store.Embedding(ctx, id)
			if err != nil {
				return err
			}

			var hits []similarity
			if a.mirror != nil {
				matches, err := a.mirror.Similar(ctx, rec.Vector, uint64(limit+1))
				if err != nil {
					return err
				}
				for _, m := range matches {
					hits = append(hits, similarity{ItemID: m.ItemID, Score: float64(m.Score)})
				}
			} else {
				all, err := a.store.Embeddings(ctx)
				if err != nil {
					return err
				}
				if hits, err = nearest(rec.Vector, all); err != nil {
					return err
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ITEM\tSCORE\tTEXT")
			shown := 0
			for _, h := range hits {
				if h.ItemID == id || shown == limit {
					continue
				}
				it, err := a.store.ItemByID(ctx, h.ItemID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%.4f\t%s\n", h.ItemID, h.Score, truncate(it.Text, 80))
				shown++
			}
			return w.Flush()
		},
	}
	similar.Flags().IntVar(&limit, "limit", 10, "number of items to list")
	cmd.AddCommand(similar)

	return cmd
}

type similarity struct {
	ItemID int64
	Score  float64
}

// nearest ranks recs by cosine similarity to v, best first.
func nearest(v []float64, recs []models.EmbeddingRecord) ([]similarity, error) {
	out := make([]similarity, 0, len(recs))
	for _, r := range recs {
		score, err := vector.Cosine(v, r.Vector)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", r.ItemID)
		}
		out = append(out, similarity{ItemID: r.ItemID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
