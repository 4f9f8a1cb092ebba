package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verimail/engine/pkg/batch"
	"github.com/verimail/engine/pkg/verifier"
)

var (
	batchConfigFile string
	batchFile       string
	batchEmails     string
	batchOwner      string
	batchPriority   string
	batchCallback   string
	batchNotify     string
	batchFormat     string
	batchOutput     string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Asynchronous batch verification",
	Long:  `Submit, inspect and export batch verification jobs`,
}

var batchSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a batch of addresses for verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		emails, err := collectEmails()
		if err != nil {
			return err
		}

		rt, err := newRuntime(batchConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		exec := batch.NewExecutor(batch.ExecutorDeps{
			Store:   rt.batch,
			Credits: batch.NewUsageCredits(rt.store, rt.cfg.Batch.OwnerAllowance),
			Logger:  rt.log,
			Options: verifier.DefaultOptions(),
			Batch:   rt.cfg.Batch,
		})
		job, err := exec.Submit(cmd.Context(), batchOwner, batchPriority, emails, batchCallback, batchNotify)
		if err != nil {
			return err
		}

		fmt.Printf("✅ Batch queued: %s\n", job.ID)
		fmt.Printf("  Addresses: %d\n", job.Total)
		fmt.Printf("  Queue:     %s\n", job.Priority)
		fmt.Printf("  Use 'verimail batch status %s' to track progress\n", job.ID)
		return nil
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status [batch-id]",
	Short: "Show the progress of a batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(batchConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		job, err := rt.batch.Get(cmd.Context(), args[0], batchOwner)
		if err != nil {
			return err
		}

		fmt.Printf("Batch %s\n", job.ID)
		fmt.Printf("  Status:    %s\n", job.Status)
		fmt.Printf("  Progress:  %d/%d (%.0f%%)\n", job.Processed, job.Total, job.Progress()*100)
		fmt.Printf("  Valid:     %d\n", job.Valid)
		fmt.Printf("  Invalid:   %d\n", job.Invalid)
		if job.Error != "" {
			fmt.Printf("  Error:     %s\n", job.Error)
		}
		if !job.CompletedAt.IsZero() {
			fmt.Printf("  Completed: %s\n", job.CompletedAt.Format("2006-01-02 15:04:05 MST"))
		}
		return nil
	},
}

var batchCancelCmd = &cobra.Command{
	Use:   "cancel [batch-id]",
	Short: "Cancel a queued or running batch job",
	Long:  `Flag a batch for cancellation. Workers stop it at the next address boundary and mark it failed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(batchConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.batch.Cancel(cmd.Context(), args[0], batchOwner); err != nil {
			return err
		}
		fmt.Printf("✅ Batch %s flagged for cancellation\n", args[0])
		return nil
	},
}

var batchExportCmd = &cobra.Command{
	Use:   "export [batch-id]",
	Short: "Export the results of a batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(batchConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		out := os.Stdout
		if batchOutput != "" {
			f, err := os.Create(batchOutput)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		switch batchFormat {
		case "csv":
			err = rt.batch.ExportCSV(cmd.Context(), args[0], batchOwner, out)
		case "json":
			err = rt.batch.ExportJSON(cmd.Context(), args[0], batchOwner, out)
		default:
			return fmt.Errorf("unknown format %q (want csv or json)", batchFormat)
		}
		if err != nil {
			return err
		}
		if batchOutput != "" {
			fmt.Printf("✅ Results written to %s\n", batchOutput)
		}
		return nil
	},
}

// collectEmails reads addresses from --file (one per line, blanks and
// #comments skipped) or from the --emails list.
func collectEmails() ([]string, error) {
	if batchFile != "" {
		f, err := os.Open(batchFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		var emails []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			emails = append(emails, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return emails, nil
	}

	var emails []string
	for _, e := range strings.Split(batchEmails, ",") {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, e)
		}
	}
	if len(emails) == 0 {
		return nil, fmt.Errorf("no addresses given (use --file or --emails)")
	}
	return emails, nil
}

func init() {
	batchCmd.AddCommand(batchSubmitCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchCancelCmd)
	batchCmd.AddCommand(batchExportCmd)

	batchCmd.PersistentFlags().StringVarP(&batchConfigFile, "config", "c", "", "Configuration file path")
	batchCmd.PersistentFlags().StringVar(&batchOwner, "owner", "", "Account scope; jobs of other owners read as not found")

	batchSubmitCmd.Flags().StringVarP(&batchFile, "file", "f", "", "File with one address per line")
	batchSubmitCmd.Flags().StringVar(&batchEmails, "emails", "", "Comma-separated address list")
	batchSubmitCmd.Flags().StringVar(&batchPriority, "priority", batch.PriorityBulk, "Queue to use: single or bulk")
	batchSubmitCmd.Flags().StringVar(&batchCallback, "callback", "", "URL called when the batch finishes")
	batchSubmitCmd.Flags().StringVar(&batchNotify, "notify", "", "Email notified when the batch finishes")

	batchExportCmd.Flags().StringVar(&batchFormat, "format", "csv", "Export format: csv or json")
	batchExportCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Output file (default stdout)")
}
