package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/infralens/infralens/pkg/apierr"
	"github.com/infralens/infralens/pkg/models"
	"github.com/infralens/infralens/pkg/orchestrator"
	"github.com/infralens/infralens/pkg/report"
)

func newAssessCmd() *cobra.Command {
	var (
		configPath  string
		imagePath   string
		description string
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Generate a repair report for an image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			res, err := a.orch.Run(ctx, orchestrator.Input{
				Image:       data,
				Filename:    filepath.Base(imagePath),
				Description: description,
			}, func(ev models.RunEvent) {
				if ev.Message == "" {
					fmt.Fprintf(out, "[%s]\n", ev.State)
					return
				}
				fmt.Fprintf(out, "[%s] %s\n", ev.State, ev.Message)
			})
			if err != nil {
				if apierr.KindOf(err) == apierr.KindValidation || apierr.KindOf(err) == apierr.KindBusy {
					return errors.New(a.orch.UserMessage(err))
				}
				return fmt.Errorf("report failed: %w", err)
			}

			reportPath, imagePathOut, err := writeArtifacts(outDir, time.Now(), res)
			if err != nil {
				return err
			}
			printSummary(out, res)
			fmt.Fprintf(out, "\nReport: %s\nImage:  %s\n", reportPath, imagePathOut)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to the photo of the damaged structure")
	cmd.Flags().StringVarP(&description, "description", "d", "", "short description of the damage")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for the report files")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// writeArtifacts writes the report JSON and the repaired image with
// timestamped names.
func writeArtifacts(dir string, now time.Time, res *orchestrator.Result) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output dir: %w", err)
	}
	base := "infralens-report-" + now.Format("20060102-150405")

	body, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode report: %w", err)
	}
	reportPath := filepath.Join(dir, base+".json")
	if err := os.WriteFile(reportPath, body, 0o644); err != nil {
		return "", "", fmt.Errorf("write report: %w", err)
	}

	imagePath := filepath.Join(dir, base+imageExtension(res.RepairedMIME))
	if err := os.WriteFile(imagePath, res.RepairedImage, 0o644); err != nil {
		return "", "", fmt.Errorf("write image: %w", err)
	}
	return reportPath, imagePath, nil
}

func imageExtension(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/svg+xml":
		return ".svg"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

func printSummary(out io.Writer, res *orchestrator.Result) {
	desc, err := report.DecodeDescription(res.Report)
	if err != nil {
		return
	}
	fmt.Fprintf(out, "\nCurrent state:\n  %s\n", desc.CurrentState)
	if len(desc.RepairSteps) > 0 {
		fmt.Fprintln(out, "\nRepair steps:")
		for i, s := range desc.RepairSteps {
			fmt.Fprintf(out, "  %d. %s\n", i+1, s)
		}
	}
	c := res.Report.CostEstimation
	fmt.Fprintf(out, "\nEstimated cost: %s\n", c.Total)
	fmt.Fprintf(out, "  materials %s, labor %s, permits %s, safety equipment %s\n",
		c.Breakdown.Materials, c.Breakdown.Labor, c.Breakdown.Permits, c.Breakdown.SafetyEquipment)
	fmt.Fprintf(out, "Timeline: %s", res.Report.Timeline.EstimatedDuration)
	if len(res.Report.Timeline.Phases) > 0 {
		fmt.Fprintf(out, " (%s)", strings.Join(res.Report.Timeline.Phases, "; "))
	}
	fmt.Fprintln(out)
	if res.Fallback {
		fmt.Fprintln(out, "\nNote: the analysis was not structured; cost and timeline are indicative placeholders.")
	}
	if res.CacheHit {
		fmt.Fprintln(out, "Served from cache.")
	}
}
