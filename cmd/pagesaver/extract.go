package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesaver/archive"
	"github.com/hazyhaar/pagesaver/images"
	"github.com/hazyhaar/pagesaver/saver"
)

var imagesCmd = &cobra.Command{
	Use:   "images <url>",
	Short: "Download every image on a page",
	Long:  "Collect <img> sources, srcset candidates, <picture> sources and CSS background images and save them under images/.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImages,
}

var archiveCmd = &cobra.Command{
	Use:   "archive <url>",
	Short: "Save a static copy of every page under a URL prefix",
	Long: "Crawl breadth-first from <url>, following only links that start with --prefix (default: <url> itself). " +
		"Scripts are removed and links between archived pages are rewritten to the local files.",
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

func init() {
	imagesCmd.Flags().Int64("min-size", 0, "skip images smaller than this many bytes (0: keep all)")
	imagesCmd.Flags().Bool("no-img", false, "skip <img> and <picture> sources")
	imagesCmd.Flags().Bool("no-background", false, "skip CSS background images")

	archiveCmd.Flags().String("prefix", "", "only follow links starting with this URL")
	archiveCmd.Flags().Int("max-pages", 0, "maximum pages to archive (default from config, 50)")
	archiveCmd.Flags().Bool("markdown", false, "also write a Markdown file next to each page")
}

func runImages(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := saver.ImagesRequest{URL: args[0]}
	if cmd.Flags().Changed("min-size") {
		v, _ := cmd.Flags().GetInt64("min-size")
		req.MinSize = &v
	}
	if v, _ := cmd.Flags().GetBool("no-img"); v {
		req.IncludeImg = lo.ToPtr(false)
	}
	if v, _ := cmd.Flags().GetBool("no-background"); v {
		req.IncludeBackground = lo.ToPtr(false)
	}

	spinner, _ := pterm.DefaultSpinner.Start("Collecting images")
	req.Progress = func(p images.Progress) {
		spinner.UpdateText(fmt.Sprintf("Image %d/%d: %s", p.Index, p.Total, p.State))
	}
	out, err := a.saver.Images(cmd.Context(), req)
	if err != nil {
		spinner.Fail(err.Error())
		return reported{err}
	}
	rep := out.Report
	switch {
	case rep.Cancelled:
		spinner.Warning(out.Status)
	case rep.Found == 0:
		spinner.Info("No images found on this page")
	default:
		spinner.Success(out.Status)
	}
	if len(rep.FailedURLs) > 0 {
		rows := pterm.TableData{{"Failed URL"}}
		for _, u := range rep.FailedURLs {
			rows = append(rows, []string{u})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
	return nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	prefix, _ := cmd.Flags().GetString("prefix")
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	req := saver.ArchiveRequest{URL: args[0], Prefix: prefix, MaxPages: maxPages}
	if cmd.Flags().Changed("markdown") {
		v, _ := cmd.Flags().GetBool("markdown")
		req.Markdown = &v
	}

	spinner, _ := pterm.DefaultSpinner.Start("Starting archive")
	req.Progress = func(p archive.Progress) {
		spinner.UpdateText(fmt.Sprintf("Fetching #%d (max %d) %s", p.N, p.MaxPages, p.URL))
	}
	out, err := a.saver.Archive(cmd.Context(), req)
	if err != nil {
		spinner.Fail(err.Error())
		return reported{err}
	}
	rep := out.Report
	switch {
	case rep.Cancelled:
		spinner.Warning(out.Status)
	case len(rep.Archived) == 0:
		spinner.Fail(out.Status)
	default:
		spinner.Success(out.Status)
	}
	if rep.NeedsScript > 0 {
		pterm.Warning.Printfln("%d pages look script-rendered; their archived copies may be mostly empty.", rep.NeedsScript)
	}
	if len(rep.Failed) > 0 {
		rows := pterm.TableData{{"URL", "Error"}}
		for _, f := range rep.Failed {
			rows = append(rows, []string{f.URL, f.Error})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	}
	return nil
}
