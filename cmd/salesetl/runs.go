package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"salesetl/internal/runs"
	"salesetl/internal/schema"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, closeSession, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		list, err := runs.NewTracker(sess.store).List(sess.ctx, runsLimit)
		if err != nil {
			return err
		}
		renderRuns(cmd.OutOrStdout(), list)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list, newest first")
}

func runStatus(s schema.RunStatus) string {
	switch s {
	case schema.RunSuccess:
		return color.GreenString(string(s))
	case schema.RunFailed:
		return color.RedString(string(s))
	}
	return color.YellowString(string(s))
}

func renderRuns(w io.Writer, list []schema.PipelineRun) {
	if len(list) == 0 {
		fmt.Fprintln(w, "no pipeline runs recorded")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Run", "Pipeline", "Type", "Started", "Duration", "Processed", "Succeeded", "Failed", "Status", "Error"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, r := range list {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Truncate(time.Second).String()
		}
		table.Append([]string{
			fmt.Sprint(r.ID),
			r.PipelineName,
			r.RunType,
			r.StartedAt.Local().Format(time.DateTime),
			dur,
			fmt.Sprint(r.Processed),
			fmt.Sprint(r.Succeeded),
			fmt.Sprint(r.Failed),
			runStatus(r.Status),
			r.ErrorMessage,
		})
	}
	table.Render()
}
