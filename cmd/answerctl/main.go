// answerctl is the operator CLI for the Answer Book catalog.
package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/ashureev/answerbook/internal/astro"
	"github.com/ashureev/answerbook/internal/catalog"
	"github.com/ashureev/answerbook/internal/domain"
	"github.com/ashureev/answerbook/internal/selection"
	"github.com/ashureev/answerbook/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "answerctl",
		Short:         "Manage the Answer Book catalog",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("catalog", os.Getenv("CATALOG_PATH"), "catalog YAML file (embedded catalog when empty)")

	root.AddCommand(newSeedCmd(), newSunSignCmd(), newPickCmd())
	return root
}

func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, err := cmd.Flags().GetString("catalog")
	if err != nil {
		return nil, err
	}
	return catalog.Load(path)
}

func newSeedCmd() *cobra.Command {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./data/answerbook.db"
	}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the catalog into the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			res, err := repo.SeedCatalog(cmd.Context(), cat.Answers, cat.Hints)
			if err != nil {
				return err
			}
			total, err := repo.CountAnswers(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d answers and %d hints into %s (%d answers stored)\n",
				res.Answers, res.Hints, dbPath, total)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", dbPath, "SQLite database path")
	return cmd
}

func newSunSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sunsign <date>...",
		Short: "Print the sun sign for each YYYY-MM-DD date",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, date := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", date, astro.ClassifySunSign(date))
			}
			return nil
		},
	}
}

func newPickCmd() *cobra.Command {
	var (
		category string
		trials   int
	)

	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Show how often the weighted picker returns each answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, ok := domain.ParseCategory(category)
			if !ok {
				return fmt.Errorf("unknown category %q", category)
			}
			if trials <= 0 {
				return fmt.Errorf("--trials must be > 0")
			}
			cat, err := loadCatalog(cmd)
			if err != nil {
				return err
			}
			pool := cat.AnswersFor(c)
			if len(pool) == 0 {
				return fmt.Errorf("no answers available for %s", c)
			}

			counts := make(map[int64]int, len(pool))
			for range trials {
				a, _ := selection.PickWeighted(pool, domain.AnswerWeight, selection.Default)
				counts[a.ID]++
			}
			printDistribution(cmd, pool, counts, trials)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", string(domain.CategoryRandom), "answer category")
	cmd.Flags().IntVar(&trials, "trials", 10000, "number of picks")
	return cmd
}

func printDistribution(cmd *cobra.Command, pool []domain.Answer, counts map[int64]int, trials int) {
	total := 0.0
	for _, a := range pool {
		total += max(a.Weight, 0)
	}

	sorted := slices.Clone(pool)
	slices.SortFunc(sorted, func(a, b domain.Answer) int { return counts[b.ID] - counts[a.ID] })

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWEIGHT\tEXPECTED\tOBSERVED\tANSWER")
	for _, a := range sorted {
		expected := 0.0
		if total > 0 {
			expected = max(a.Weight, 0) / total
		}
		fmt.Fprintf(tw, "%d\t%.2f\t%.3f\t%.3f\t%s\n",
			a.ID, a.Weight, expected, float64(counts[a.ID])/float64(trials), a.Text)
	}
	_ = tw.Flush()
}
