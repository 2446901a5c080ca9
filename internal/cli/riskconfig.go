package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/bandwatch/internal/risk"
)

func init() {
	rootCmd.AddCommand(riskConfigCmd)
	riskConfigCmd.AddCommand(riskConfigShowCmd)
	riskConfigCmd.AddCommand(riskConfigValidateCmd)
	riskConfigCmd.AddCommand(riskConfigInitCmd)
}

var riskConfigCmd = &cobra.Command{
	Use:   "riskconfig",
	Short: "Inspect and manage the risk scoring config",
}

var riskConfigShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the effective risk config and its hash",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		cfg, hash, err := risk.LoadWithHash(path)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# hash: %s\n%s", hash, out)
		return nil
	},
}

var riskConfigValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a risk config file",
	Long:  "Checks thresholds are non-decreasing and weights are non-negative.\nExits 0 if valid.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := risk.Load(args[0]); err != nil {
			return err
		}
		fmt.Printf("OK: %s is valid\n", args[0])
		return nil
	},
}

var riskConfigInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default risk config to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := risk.DefaultPath()
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(risk.DefaultConfigYAML()), 0600); err != nil {
			return err
		}
		fmt.Printf("wrote default risk config to %s\n", path)
		return nil
	},
}
