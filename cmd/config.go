package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verimail/engine/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Generate and validate VeriMail configuration files`,
}

var configGenCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := "config.yaml"
		if len(args) > 0 {
			configPath = args[0]
		}

		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
			}
		}

		if err := config.Default().Save(configPath); err != nil {
			return err
		}

		fmt.Printf("✅ Configuration file generated: %s\n", configPath)
		fmt.Printf("Use 'verimail verify --config %s <email>' to try it\n", configPath)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return fmt.Errorf("❌ configuration invalid: %v", err)
		}

		fmt.Printf("✅ Configuration is valid: %s\n", args[0])
		fmt.Printf("  Redis:           %s\n", cfg.RedisURL)
		fmt.Printf("  IP pool:         %d address(es)\n", len(cfg.IPPool))
		fmt.Printf("  Workers:         %d single / %d bulk\n", cfg.VerificationConcurrency, cfg.BulkConcurrency)
		fmt.Printf("  SMTP ports:      %v\n", cfg.SMTP.Ports)
		fmt.Printf("  Rate limits:     %d/min default, %d domain overrides\n",
			cfg.RateLimits.Default.PerMinute, len(cfg.RateLimits.Domains))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [config-file]",
	Short: "Show current configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		source := "defaults"
		if len(args) > 0 {
			var err error
			cfg, err = config.Load(args[0])
			if err != nil {
				return err
			}
			source = args[0]
		}

		fmt.Printf("Configuration (%s):\n\n", source)
		fmt.Printf("Redis:        %s\n", cfg.RedisURL)
		fmt.Printf("Queue prefix: %s\n", cfg.QueuePrefix)
		fmt.Printf("Log level:    %s\n", cfg.LogLevel)
		fmt.Printf("Metrics:      %v\n", cfg.EnableMetrics)
		fmt.Printf("\nDNS:\n")
		fmt.Printf("  Timeout:         %dms\n", cfg.DNS.TimeoutMs)
		fmt.Printf("  Alt nameservers: %s\n", strings.Join(cfg.DNS.AltNameservers, ", "))
		fmt.Printf("\nSMTP:\n")
		fmt.Printf("  HELO domain: %s\n", cfg.SMTP.HeloDomain)
		fmt.Printf("  Mail from:   %s\n", cfg.SMTP.MailFrom)
		fmt.Printf("  Ports:       %v\n", cfg.SMTP.Ports)
		fmt.Printf("\nCache TTLs:\n")
		fmt.Printf("  MX:       %ds\n", cfg.Cache.MXTTLSec)
		fmt.Printf("  Positive: %ds\n", cfg.Cache.PositiveTTLSec)
		fmt.Printf("  Negative: %ds\n", cfg.Cache.NegativeTTLSec)
		fmt.Printf("\nBatch:\n")
		fmt.Printf("  Flush every:  %d emails\n", cfg.Batch.FlushEvery)
		fmt.Printf("  Email pause:  %dms\n", cfg.Batch.EmailPauseMs)
		fmt.Printf("  Retention:    %d days\n", cfg.Batch.RetentionDays)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configGenCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
}
