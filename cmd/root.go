package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "verimail",
	Short: "VeriMail - Email verification engine",
	Long: `VeriMail verifies email addresses without sending mail: syntax checks,
MX resolution, disposable and role-account detection, rate-governed SMTP
probing and catch-all discovery, with Redis-backed caching and async
batch processing.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("VeriMail - Email Verification Engine")
		fmt.Println("Use 'verimail --help' for usage information")
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
}
