package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinkapp/tink/internal/model"
	"github.com/tinkapp/tink/internal/repository"
	"github.com/tinkapp/tink/internal/repository/sqlite"
)

// categoryFile is the layout of a category fixture:
//
//	categories:
//	  - id: cleaning
//	    name: Limpieza
//	    isManual: true        # in-person only; false = online only; omit = owner decides
//	    imageURL: https://...
//	    order: 1
type categoryFile struct {
	Categories []model.Category `yaml:"categories"`
}

// LoadCategories parses a category fixture. Every entry needs a name; ids
// must be unique within the file.
func LoadCategories(r io.Reader) ([]model.Category, error) {
	var f categoryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("category file is empty")
		}
		return nil, fmt.Errorf("failed to parse category file: %w", err)
	}

	seen := make(map[string]bool, len(f.Categories))
	for i, c := range f.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("category #%d has no name", i+1)
		}
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("category id %q appears twice", c.ID)
		}
		seen[c.ID] = true
	}
	return f.Categories, nil
}

// SeedCategories upserts cats and returns how many were written.
func SeedCategories(ctx context.Context, repo repository.CategoryRepository, cats []model.Category) (int, error) {
	for i := range cats {
		if err := repo.UpsertCategory(ctx, &cats[i]); err != nil {
			return i, err
		}
	}
	return len(cats), nil
}

// NewCategoriesCmd creates the categories command
func NewCategoriesCmd(dbPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage skill categories",
	}
	cmd.AddCommand(newCategoriesSeedCmd(dbPath))
	cmd.AddCommand(newCategoriesListCmd(dbPath))
	return cmd
}

func newCategoriesSeedCmd(dbPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert or update categories from a YAML file",
		Long: `Insert or update categories from a YAML file.

Entries with an id overwrite the stored category with that id; entries
without one are inserted with a generated id. Devices that already loaded
the category list keep it until their session restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()

			cats, err := LoadCategories(f)
			if err != nil {
				return err
			}

			return withDB(*dbPath, func(db *sqlite.DB) error {
				n, err := SeedCategories(cmd.Context(), db, cats)
				if err != nil {
					return fmt.Errorf("failed to seed categories: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d categories\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with the categories")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newCategoriesListCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(*dbPath, func(db *sqlite.DB) error {
				cats, err := db.ListCategories(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list categories: %w", err)
				}
				printCategories(cmd.OutOrStdout(), cats)
				return nil
			})
		},
	}
}

func printCategories(w io.Writer, cats []model.Category) {
	if len(cats) == 0 {
		fmt.Fprintln(w, "No categories")
		return
	}
	for _, c := range cats {
		fmt.Fprintf(w, "  - %s (%s)\n", c.Name, c.ID)
		fmt.Fprintf(w, "    Mode: %s\n", categoryMode(c))
		if c.ImageURL != nil {
			fmt.Fprintf(w, "    Image: %s\n", *c.ImageURL)
		}
	}
}

func categoryMode(c model.Category) string {
	switch {
	case c.IsManual == nil:
		return "owner decides"
	case *c.IsManual:
		return "in person only"
	default:
		return "online only"
	}
}
