package cli

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type seedProduct struct {
	ID          string `koanf:"id"`
	Name        string `koanf:"name"`
	Description string `koanf:"description"`
	Price       string `koanf:"price"`
	ImageURL    string `koanf:"image_url"`
	Category    string `koanf:"category"`
	Stock       int    `koanf:"stock"`
	Featured    bool   `koanf:"featured"`
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog products from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			products, err := readSeedFile(path)
			if err != nil {
				return err
			}

			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.UpsertProducts(context.Background(), products); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", len(products))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "configs/seed.yaml", "YAML file with a top-level products list")
	return cmd
}

func readSeedFile(path string) ([]domain.Product, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load seed file: %w", err)
	}

	var raw []seedProduct
	if err := k.Unmarshal("products", &raw); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	products := make([]domain.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" {
			return nil, fmt.Errorf("seed product without id")
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s: invalid price %q: %w", p.ID, p.Price, err)
		}
		products = append(products, domain.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       price,
			ImageURL:    p.ImageURL,
			Category:    p.Category,
			Stock:       p.Stock,
			Featured:    p.Featured,
		})
	}
	return products, nil
}
