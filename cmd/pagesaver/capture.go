package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesaver/capture"
	"github.com/hazyhaar/pagesaver/saver"
)

var shotCmd = &cobra.Command{
	Use:   "shot <url>",
	Short: "Save the visible viewport",
	Args:  cobra.ExactArgs(1),
	RunE:  runShot,
}

var fullpageCmd = &cobra.Command{
	Use:   "fullpage <url>",
	Short: "Save the whole scrollable page",
	Long: "Scroll through the page capturing one viewport per step and stitch the frames into one PNG. " +
		"A fixed header is kept once at the top and bottom overlays are hidden during the run.",
	Args: cobra.ExactArgs(1),
	RunE: runFullPage,
}

var areaCmd = &cobra.Command{
	Use:   "area <url>",
	Short: "Save a selected area of the viewport",
	Long: "Without --rect, opens the page in a visible browser and waits for a mouse selection " +
		"(ESC cancels). With --rect left,top,width,height the area is captured directly.",
	Args: cobra.ExactArgs(1),
	RunE: runArea,
}

func init() {
	shotCmd.Flags().String("name", "", "file name without extension (default: page title)")
	fullpageCmd.Flags().String("name", "", "file name without extension (default: page title)")
	areaCmd.Flags().Float64Slice("rect", nil, "selection in CSS pixels: left,top,width,height")
}

func runShot(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	return runCapture(cmd, "Capturing viewport", func(a *app, _ *pterm.SpinnerPrinter) (*saver.CaptureOutcome, error) {
		return a.saver.Visible(cmd.Context(), saver.CaptureRequest{URL: args[0], Name: name})
	}, false)
}

func runFullPage(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	return runCapture(cmd, "Capturing full page", func(a *app, spinner *pterm.SpinnerPrinter) (*saver.CaptureOutcome, error) {
		return a.saver.FullPage(cmd.Context(), saver.CaptureRequest{
			URL:  args[0],
			Name: name,
			Progress: func(p capture.Progress) {
				spinner.UpdateText(fmt.Sprintf("Capturing frame %d/%d", p.Frame, p.Planned))
			},
		})
	}, false)
}

func runArea(cmd *cobra.Command, args []string) error {
	rect, _ := cmd.Flags().GetFloat64Slice("rect")
	req := saver.AreaRequest{URL: args[0]}
	if len(rect) > 0 {
		if len(rect) != 4 {
			return fmt.Errorf("--rect needs left,top,width,height")
		}
		req.Rect = &capture.Selection{Left: rect[0], Top: rect[1], Width: rect[2], Height: rect[3]}
	}
	interactive := req.Rect == nil
	title := "Capturing area"
	if interactive {
		title = "Select an area in the browser window (ESC cancels)"
	}
	return runCapture(cmd, title, func(a *app, _ *pterm.SpinnerPrinter) (*saver.CaptureOutcome, error) {
		return a.saver.Area(cmd.Context(), req)
	}, interactive)
}

func runCapture(cmd *cobra.Command, title string,
	run func(*app, *pterm.SpinnerPrinter) (*saver.CaptureOutcome, error), visible bool) error {
	if visible {
		_ = cmd.Flags().Set("mode", "visible")
	}
	a, err := newApp(cmd.Context(), cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	spinner, _ := pterm.DefaultSpinner.Start(title)
	out, err := run(a, spinner)
	if err != nil {
		status := err.Error()
		if out != nil && out.Status != "" {
			status = out.Status
		}
		spinner.Fail(status)
		return reported{err}
	}
	spinner.Success(out.Status)
	if out.Result != nil && out.Result.Truncated {
		pterm.Warning.Println("Page height and captured frames disagree; the bottom may be cut off.")
	}
	return nil
}
