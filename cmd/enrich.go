package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verimail/engine/pkg/verifier"
)

var (
	enrichConfigFile string
	enrichJSON       bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich [email]",
	Short: "Verify and enrich a single email address",
	Long:  `Verify an address and derive the intelligence block: a guessed person name, company, provider class and domain category`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(enrichConfigFile)
		if err != nil {
			return err
		}
		defer rt.Close()

		result := rt.engine.Enrich(cmd.Context(), args[0], verifier.DefaultOptions())
		if enrichJSON {
			raw, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		}

		if result.Enrichment == nil {
			fmt.Printf("❌ %s is not valid, nothing to enrich\n", result.Email)
			return nil
		}

		en := result.Enrichment
		fmt.Printf("✅ %s\n", result.Email)
		if en.PossibleName != nil {
			fmt.Printf("  Possible name:    %s\n", en.PossibleName.Full)
		}
		if en.PossibleCompany != "" {
			fmt.Printf("  Possible company: %s\n", en.PossibleCompany)
		}
		fmt.Printf("  Free provider:    %v\n", en.IsFreeProvider)
		fmt.Printf("  Domain category:  %s\n", en.DomainCategory)
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVarP(&enrichConfigFile, "config", "c", "", "Configuration file path")
	enrichCmd.Flags().BoolVar(&enrichJSON, "json", false, "Print the raw JSON result")
}
