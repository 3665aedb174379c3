package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-supervisor/internal/changes"
	"github.com/JakeFAU/crawl-supervisor/internal/server"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Lists the sites present in the crawl output",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd, func(tools *server.ChangeTools) error {
				sites, err := tools.Reader.ListSites(cmd.Context())
				if err != nil {
					return fmt.Errorf("list sites: %w", err)
				}
				renderSites(cmd.OutOrStdout(), sites)
				return nil
			})
		},
	}
}

func newChangesCmd() *cobra.Command {
	var (
		site   string
		record bool
	)
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Reports which pages of a site changed since they were last recorded",
		Long: `Fingerprints every crawled page of the site and compares it with the
stored fingerprint. With --record the current fingerprints replace the stored
ones, so the next report starts from this crawl.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withTools(cmd, func(tools *server.ChangeTools) error {
				report, err := tools.Detector.DetectSite(cmd.Context(), site)
				if err != nil {
					return fmt.Errorf("detect changes for %s: %w", site, err)
				}
				renderReport(cmd.OutOrStdout(), report)
				if !record {
					return nil
				}
				for _, group := range [][]changes.PageResult{report.New, report.Changed} {
					for _, res := range group {
						if res.Current == nil {
							continue
						}
						if err := tools.Detector.Record(cmd.Context(), report.SiteID, res.PageURL, *res.Current); err != nil {
							return fmt.Errorf("record %s: %w", res.PageURL, err)
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "site directory to inspect")
	cmd.Flags().BoolVar(&record, "record", false, "store the current fingerprints after reporting")
	_ = cmd.MarkFlagRequired("site")
	return cmd
}

func renderSites(w io.Writer, sites []string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Site"})
	for i, s := range sites {
		t.AppendRow(table.Row{i + 1, s})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d sites", len(sites))})
	t.Render()
}

func renderReport(w io.Writer, report changes.SiteReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Changes for " + report.SiteID)
	t.AppendHeader(table.Row{"Verdict", "Change", "URL", "Words", "Bytes"})
	appendGroup := func(verdict string, results []changes.PageResult) {
		for _, r := range results {
			words, size := "-", "-"
			if r.Current != nil {
				words = fmt.Sprint(r.Current.WordCount)
				size = fmt.Sprint(r.Current.FileSize)
			}
			change := string(r.ChangeType)
			if change == "" {
				change = "-"
			}
			t.AppendRow(table.Row{verdict, change, r.PageURL, words, size})
		}
	}
	appendGroup("new", report.New)
	appendGroup("changed", report.Changed)
	appendGroup("unchanged", report.Unchanged)
	t.AppendFooter(table.Row{"total", "", summary(report), "", ""})
	t.Render()
}

func summary(r changes.SiteReport) string {
	parts := []string{
		fmt.Sprintf("%d pages", r.Total),
		fmt.Sprintf("%d new", len(r.New)),
		fmt.Sprintf("%d changed", len(r.Changed)),
	}
	return strings.Join(parts, ", ")
}
