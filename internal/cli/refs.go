package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/refs"
)

func init() {
	cmd := &cobra.Command{
		Use:   "refs <file>",
		Short: "Print the dependencies a local model file declares",
		Long:  "Read a local OBJ, MTL, glTF or GLB file and print the file names it references.",
		Args:  cobra.ExactArgs(1),
		Run:   runRefs,
	}

	RootCmd.AddCommand(cmd)
}

type refsReport struct {
	File       string                 `json:"file"`
	Format     model.Format           `json:"format"`
	Mode       string                 `json:"mode"`
	References []model.ModelReference `json:"references"`
}

func runRefs(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		exitErr("read file", err)
	}

	format := model.FormatFromName(args[0])
	found := refs.Extract(format, data)
	if found == nil {
		found = []model.ModelReference{}
	}

	if textOutput() {
		for _, r := range found {
			fmt.Println(r)
		}
		return
	}
	printJSON(refsReport{
		File:       filepath.Base(args[0]),
		Format:     format,
		Mode:       format.Mode().String(),
		References: found,
	})
}
