package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verimail/engine/pkg/verifier"
)

var (
	verifyConfigFile string
	verifyNoSMTP     bool
	verifyNoCache    bool
	verifyAltDNS     bool
	verifyAdvanced   bool
	verifyTimeoutMs  int
	verifyJSON       bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [email]",
	Short: "Verify a single email address",
	Long:  `Run the full verification pipeline for one address and print the result`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(verifyConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		opts := verifyOptions()
		result := rt.engine.Verify(cmd.Context(), args[0], opts)
		return printResult(result, verifyJSON)
	},
}

func verifyOptions() verifier.Options {
	opts := verifier.DefaultOptions()
	if verifyAdvanced {
		opts = verifier.AdvancedOptions()
	}
	if verifyNoSMTP {
		opts.CheckSMTP = false
		opts.CheckCatchAll = false
	}
	if verifyNoCache {
		opts.UseCache = false
		opts.CacheResults = false
	}
	opts.AltDNS = verifyAltDNS
	if verifyTimeoutMs > 0 {
		opts.TimeoutMs = verifyTimeoutMs
	}
	return opts
}

func printResult(r verifier.Result, asJSON bool) error {
	if asJSON {
		raw, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	verdict := "❌ invalid"
	if r.IsValid {
		verdict = "✅ valid"
	}
	fmt.Printf("%s  %s\n", verdict, r.Email)
	fmt.Printf("  Format valid:  %v\n", r.FormatValid)
	fmt.Printf("  MX records:    %v\n", r.HasMX)
	fmt.Printf("  SMTP check:    %v\n", r.SMTPOk)
	fmt.Printf("  Disposable:    %v\n", r.IsDisposable)
	fmt.Printf("  Role account:  %v\n", r.IsRoleAccount)
	fmt.Printf("  Catch-all:     %v\n", r.IsCatchAll)
	fmt.Printf("  Reputation:    %d/10\n", r.Details.Reputation)
	if r.Suggestion != "" {
		fmt.Printf("  Did you mean:  %s\n", r.Suggestion)
	}
	if len(r.Errors) > 0 {
		fmt.Printf("  Errors:        %s\n", strings.Join(r.Errors, "; "))
	}
	if r.FromCache {
		fmt.Printf("  (served from cache)\n")
	}
	fmt.Printf("  Took %dms\n", r.ProcessingMs)
	return nil
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyConfigFile, "config", "c", "", "Configuration file path")
	verifyCmd.Flags().BoolVar(&verifyNoSMTP, "no-smtp", false, "Skip the SMTP mailbox probe")
	verifyCmd.Flags().BoolVar(&verifyNoCache, "no-cache", false, "Bypass the result cache")
	verifyCmd.Flags().BoolVar(&verifyAltDNS, "alt-dns", false, "Retry failed lookups on public resolvers")
	verifyCmd.Flags().BoolVar(&verifyAdvanced, "advanced", false, "Collect SPF/DKIM/DMARC and allow 30s")
	verifyCmd.Flags().IntVar(&verifyTimeoutMs, "timeout", 0, "Per-call budget in milliseconds")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the raw JSON result")
}
