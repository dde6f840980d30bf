package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"salesetl/internal/quality"
	"salesetl/internal/schema"
)

var (
	qualityStrict bool
	qualityDays   int
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Score the warehouse data",
}

var qualityRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the data quality checks once and persist their scores",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, closeSession, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		rep, err := quality.NewChecker(sess.store, cfg.Quality.WindowDays).Run(sess.ctx)
		if err != nil {
			return err
		}
		renderReport(cmd.OutOrStdout(), rep)
		if qualityStrict && rep.Status == schema.CheckFail {
			return fmt.Errorf("quality: overall status %s", rep.Status)
		}
		return nil
	},
}

var qualityScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the data quality checks on quality.schedule until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, closeSession, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		sched, err := quality.NewScheduler(quality.NewChecker(sess.store, cfg.Quality.WindowDays), cfg.Quality.Schedule)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		sched.OnReport = func(rep quality.Report) { renderReport(out, rep) }
		return sched.Run(sess.ctx)
	},
}

var qualityMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List persisted data quality scores",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, closeSession, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer closeSession()

		ms, err := quality.NewChecker(sess.store, cfg.Quality.WindowDays).Metrics(sess.ctx, qualityDays)
		if err != nil {
			return err
		}
		renderMetrics(cmd.OutOrStdout(), ms)
		return nil
	},
}

func init() {
	qualityRunCmd.Flags().BoolVar(&qualityStrict, "strict", false, "exit non-zero when any check fails")
	qualityMetricsCmd.Flags().IntVar(&qualityDays, "days", quality.DefaultWindowDays, "list scores of the last N days")
	qualityCmd.AddCommand(qualityRunCmd, qualityScheduleCmd, qualityMetricsCmd)
}

func statusString(s schema.CheckStatus) string {
	if s == schema.CheckPass {
		return color.GreenString(string(s))
	}
	return color.RedString(string(s))
}

func renderReport(w io.Writer, rep quality.Report) {
	fmt.Fprintf(w, "Data quality %s (window %s .. %s): %s\n",
		rep.CheckDate.Format(time.DateOnly),
		rep.Window.Since.Format(time.DateOnly),
		rep.CheckDate.Format(time.DateOnly),
		statusString(rep.Status))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Check", "Score", "Threshold", "Rows", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range rep.Metrics {
		table.Append([]string{
			m.CheckType,
			fmt.Sprintf("%.2f", m.Value),
			fmt.Sprintf("%.1f", m.Threshold),
			fmt.Sprint(m.Details["total_rows"]),
			statusString(m.Status),
		})
	}
	table.Render()
}

func renderMetrics(w io.Writer, ms []schema.DataQualityMetric) {
	if len(ms) == 0 {
		fmt.Fprintln(w, "no quality metrics recorded")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "Check", "Table", "Metric", "Value", "Threshold", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range ms {
		table.Append([]string{
			m.CheckDate.Format(time.DateOnly),
			m.CheckType,
			m.TableName,
			m.MetricName,
			fmt.Sprintf("%.2f", m.Value),
			fmt.Sprintf("%.1f", m.Threshold),
			statusString(m.Status),
		})
	}
	table.Render()
}
