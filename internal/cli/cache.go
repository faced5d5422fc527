package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the dependency cache",
}

func init() {
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		Run:   runCacheStats,
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List cached dependencies, newest first",
		Args:  cobra.NoArgs,
		Run:   runCacheList,
	}
	ls.Flags().StringP("prefix", "p", "", "Only keys with this prefix (a main file id followed by ::)")
	ls.Flags().IntP("limit", "l", 50, "Max results")
	ls.Flags().Bool("all", false, "Include expired entries")
	ls.Flags().Bool("keys-only", false, "Only output cache keys")

	rm := &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete one cache entry",
		Args:  cobra.ExactArgs(1),
		Run:   runCacheRm,
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired entries",
		Args:  cobra.NoArgs,
		Run:   runCachePrune,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry",
		Args:  cobra.NoArgs,
		Run:   runCacheClear,
	}

	cacheCmd.AddCommand(stats, ls, rm, prune, clearCmd)
	RootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if textOutput() {
		fmt.Printf("db:       %s (%d bytes)\n", stats.DBPath, stats.DBSizeBytes)
		fmt.Printf("entries:  %d (%d expired)\n", stats.Entries, stats.Expired)
		fmt.Printf("size:     %d / %d bytes\n", stats.TotalSize, stats.MaxTotalSize)
		fmt.Printf("max item: %d bytes\n", stats.MaxItemSize)
		return
	}
	printJSON(stats)
}

func runCacheList(cmd *cobra.Command, args []string) {
	prefix, _ := cmd.Flags().GetString("prefix")
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	entries, err := s.List(cmd.Context(), store.ListParams{
		Prefix:         prefix,
		IncludeExpired: all,
		Limit:          limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if keysOnly {
		for _, e := range entries {
			fmt.Println(e.CacheKey)
		}
		return
	}
	if entries == nil {
		entries = []model.CacheEntry{}
	}
	printJSON(entries)
}

func runCacheRm(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	removed, err := s.Remove(cmd.Context(), args[0])
	if err != nil {
		exitErr("rm", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"key":%q,"removed":%t}`+"\n", args[0], removed)
}

func runCachePrune(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	n, err := s.ClearExpired(cmd.Context())
	if err != nil {
		exitErr("prune", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deleted":%d}`+"\n", n)
}

func runCacheClear(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	n, err := s.ClearAll(cmd.Context())
	if err != nil {
		exitErr("clear", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"deleted":%d}`+"\n", n)
}
