package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/modeldeps/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "harvest <dir>",
		Short: "List the image files under a backend directory",
		Long:  "Walk <dir> and every folder below it and print the image files a harvesting load would fetch.",
		Args:  cobra.ExactArgs(1),
		Run:   runHarvest,
	}

	RootCmd.AddCommand(cmd)
}

func runHarvest(cmd *cobra.Command, args []string) {
	r, cleanup, err := newResolver(cmd.Context())
	if err != nil {
		exitErr("open backend", err)
	}
	defer cleanup()

	deps := r.Harvest(cmd.Context(), args[0])
	if deps == nil {
		deps = []model.ResolvedDependency{}
	}

	if textOutput() {
		for _, d := range deps {
			fmt.Printf("%s\t%s\n", d.DeclaredName, d.RemoteID)
		}
		return
	}
	printJSON(deps)
}
