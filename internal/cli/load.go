package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/modeldeps/internal/model"
	"github.com/rcliao/modeldeps/internal/pipeline"
)

func init() {
	cmd := &cobra.Command{
		Use:   "load <path>",
		Short: "Load a model and its dependencies",
		Long: "Fetch the model at <path> from the backend, resolve and fetch every dependency it needs\n" +
			"and print a report. Missing dependencies do not fail the load.",
		Args: cobra.ExactArgs(1),
		Run:  runLoad,
	}

	cmd.Flags().StringP("out", "o", "", "Write the assembled file set to this directory")

	RootCmd.AddCommand(cmd)
}

type fileReport struct {
	Name         string `json:"name"`
	ResolvedName string `json:"resolved_name,omitempty"`
	RemoteID     string `json:"remote_id,omitempty"`
	MIMEType     string `json:"mime_type"`
	Size         int    `json:"size"`
	FromCache    bool   `json:"from_cache,omitempty"`
}

type loadReport struct {
	LoadID       string       `json:"load_id"`
	Status       string       `json:"status"`
	Filename     string       `json:"filename"`
	Dir          string       `json:"dir"`
	Format       model.Format `json:"format"`
	Mode         string       `json:"mode"`
	MainFile     fileReport   `json:"main_file"`
	Dependencies []fileReport `json:"dependencies"`
	MissingFiles []string     `json:"missing_files"`
	WrittenTo    string       `json:"written_to,omitempty"`
}

func reportFile(f model.FetchedFile) fileReport {
	return fileReport{
		Name:         f.Name,
		ResolvedName: f.ResolvedName,
		RemoteID:     f.RemoteID,
		MIMEType:     f.MIMEType,
		Size:         f.Size(),
		FromCache:    f.FromCache,
	}
}

func newLoadReport(res *pipeline.Result) loadReport {
	r := loadReport{
		LoadID:       res.LoadID,
		Status:       res.Status(),
		Filename:     res.Filename,
		Dir:          res.Dir,
		Format:       res.Format,
		Mode:         res.Mode,
		MainFile:     reportFile(res.MainFile),
		Dependencies: make([]fileReport, 0, len(res.Dependencies)),
		MissingFiles: res.MissingFiles,
	}
	for _, d := range res.Dependencies {
		r.Dependencies = append(r.Dependencies, reportFile(d))
	}
	return r
}

func runLoad(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	report, err := loadModel(cmd.Context(), args[0], out)
	if err != nil {
		exitErr("load", err)
	}

	if textOutput() {
		printLoadText(report)
		return
	}
	printJSON(report)
}

// loadModel runs one load and releases the backend and cache before
// returning, including on error.
func loadModel(ctx context.Context, filePath, out string) (loadReport, error) {
	p, cleanup, err := newPipeline(ctx)
	if err != nil {
		return loadReport{}, fmt.Errorf("open backend: %w", err)
	}
	defer cleanup()

	res, err := p.LoadPath(ctx, filePath)
	if err != nil {
		return loadReport{}, err
	}

	report := newLoadReport(res)
	if out != "" {
		if err := writeFileSet(out, res); err != nil {
			return loadReport{}, fmt.Errorf("write files: %w", err)
		}
		report.WrittenTo = out
	}
	return report, nil
}

func printLoadText(r loadReport) {
	fmt.Printf("%s (%s, %s): %s\n", r.Filename, r.Format, r.Mode, r.Status)
	for _, d := range r.Dependencies {
		src := "fetched"
		if d.FromCache {
			src = "cache"
		}
		fmt.Printf("  + %s -> %s (%d bytes, %s)\n", d.Name, d.ResolvedName, d.Size, src)
	}
	for _, m := range r.MissingFiles {
		fmt.Printf("  - %s (missing)\n", m)
	}
	if r.WrittenTo != "" {
		fmt.Printf("written to %s\n", r.WrittenTo)
	}
}
