package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "resolve <dir> <name>",
		Short: "Resolve a dependency name in a backend directory",
		Long:  "Run the resolution tiers for <name> relative to <dir> and print the match and the tier that found it.",
		Args:  cobra.ExactArgs(2),
		Run:   runResolve,
	}

	RootCmd.AddCommand(cmd)
}

func runResolve(cmd *cobra.Command, args []string) {
	dir, name := args[0], args[1]

	r, cleanup, err := newResolver(cmd.Context())
	if err != nil {
		exitErr("open backend", err)
	}
	defer cleanup()

	res, ok := r.Resolve(cmd.Context(), dir, name)
	if !ok {
		exitErr("resolve", fmt.Errorf("no match for %q in %q", name, dir))
	}

	if textOutput() {
		fmt.Printf("%s -> %s (%s", name, res.Dependency.ResolvedName, res.Tier)
		if res.Rule != "" {
			fmt.Printf(", %s", res.Rule)
		}
		fmt.Printf(") id=%s\n", res.Dependency.RemoteID)
		return
	}
	printJSON(res)
}
