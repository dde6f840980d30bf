package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"salesetl/internal/config"
	"salesetl/internal/datasource"
	"salesetl/internal/datasource/file"
	"salesetl/internal/datasource/httpds"
	s3ds "salesetl/internal/datasource/s3"
	"salesetl/internal/pipeline"
)

var (
	ingestChannel string
	ingestList    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path | s3://bucket/key | https://host/file.csv]...",
	Short: "Ingest sales CSV extracts",
	Long: `Ingest loads each extract under its own pipeline run. Inputs come from the
arguments, from --list (one location per line, # comments allowed) or, when
neither is given, from source.file.path.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestChannel, "channel", "", "sales channel of every input (STORE, WAREHOUSE, ONLINE); inferred when empty")
	ingestCmd.Flags().StringVar(&ingestList, "list", "", "file listing input locations")
}

// ingestOutcome is one rendered line of the ingest summary.
type ingestOutcome struct {
	Name     string
	Result   pipeline.RunResult
	Err      error
	Duration time.Duration
}

func runIngest(cmd *cobra.Command, args []string) error {
	if _, err := pipeline.ParseExplicitChannel(ingestChannel); err != nil {
		return err
	}
	locs, err := ingestLocations(args, ingestList, cfg)
	if err != nil {
		return err
	}

	sess, closeSession, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer closeSession()

	srcs, err := buildSources(sess.ctx, cfg, locs)
	if err != nil {
		return err
	}

	exec := pipeline.NewBatch(sess.store)
	outcomes := make([]ingestOutcome, 0, len(srcs))
	failed := 0
	for _, src := range srcs {
		start := time.Now()
		res, err := exec.ExecuteChannel(sess.ctx, cfg, src, ingestChannel)
		outcomes = append(outcomes, ingestOutcome{Name: src.Name(), Result: res, Err: err, Duration: time.Since(start)})
		if err != nil {
			failed++
			log.Printf("salesetl: ingest %s: %v", src.Name(), err)
			if sess.ctx.Err() != nil {
				break
			}
		}
	}

	renderIngest(cmd.OutOrStdout(), outcomes)
	if failed > 0 {
		return fmt.Errorf("ingest: %d of %d inputs failed", failed, len(srcs))
	}
	return nil
}

// ingestLocations collects inputs from args, then the list file, then the
// configured source path.
func ingestLocations(args []string, listPath string, p config.Pipeline) ([]string, error) {
	locs := append([]string(nil), args...)
	if listPath != "" {
		more, err := file.ReadList(listPath)
		if err != nil {
			return nil, fmt.Errorf("read list %s: %w", listPath, err)
		}
		locs = append(locs, more...)
	}
	if len(locs) == 0 && p.Source.File.Path != "" {
		locs = append(locs, p.Source.File.Path)
	}
	if len(locs) == 0 {
		return nil, errors.New("ingest: no input (pass a path, --list, or set source.file.path)")
	}
	return locs, nil
}

// buildSources maps each location to a datasource. Remote clients are built
// once, on the first location that needs them.
func buildSources(ctx context.Context, p config.Pipeline, locs []string) ([]datasource.Source, error) {
	var (
		client *s3.Client
		web    *httpds.Client
	)
	out := make([]datasource.Source, 0, len(locs))
	for _, loc := range locs {
		if httpds.IsURL(loc) {
			if web == nil {
				web = httpds.NewClient(p.Source.HTTP, nil)
			}
			out = append(out, httpds.NewObject(web, loc))
			continue
		}
		if !s3ds.IsURI(loc) {
			out = append(out, file.NewLocal(loc))
			continue
		}
		if client == nil {
			c, err := s3ds.NewClient(ctx, p.Source.S3)
			if err != nil {
				return nil, err
			}
			client = c
		}
		obj, err := s3ds.NewObject(client, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func renderIngest(w io.Writer, outcomes []ingestOutcome) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Input", "Run", "Processed", "Succeeded", "Failed", "Duration", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, o := range outcomes {
		run := "-"
		if o.Result.RunID > 0 {
			run = fmt.Sprint(o.Result.RunID)
		}
		status := color.GreenString("SUCCESS")
		switch {
		case o.Err != nil:
			status = color.RedString("FAILED: %v", o.Err)
		case o.Result.Failed > 0:
			status = color.YellowString("SUCCESS (%d rejected)", o.Result.Failed)
		}
		table.Append([]string{
			o.Name,
			run,
			fmt.Sprint(o.Result.Processed),
			fmt.Sprint(o.Result.Succeeded),
			fmt.Sprint(o.Result.Failed),
			o.Duration.Truncate(time.Millisecond).String(),
			status,
		})
	}
	table.Render()
}
