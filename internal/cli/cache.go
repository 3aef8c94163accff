package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/promiselink/internal/cache"
	"github.com/ppiankov/promiselink/internal/model"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the embedding cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached embedding",
	Long: `Clear empties the configured embedding cache backend. Cache keys already
include provider and model, so this is only needed to reclaim space or after
a provider changed its vectors without changing the model name.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		cleared, err := clearCache(context.Background(), cfg.Cache)
		if err != nil {
			return err
		}
		if !cleared {
			fmt.Fprintln(os.Stderr, "No embedding cache configured")
			return nil
		}
		fmt.Fprintf(os.Stderr, "✓ Cleared %s embedding cache\n", cfg.Cache.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// clearCache reports false when the backend is "none"
func clearCache(ctx context.Context, cfg model.CacheConfig) (bool, error) {
	c, err := cache.Open(ctx, cfg)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	if closer, ok := c.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	if err := c.Clear(ctx); err != nil {
		return false, fmt.Errorf("clear cache: %w", err)
	}
	return true, nil
}
