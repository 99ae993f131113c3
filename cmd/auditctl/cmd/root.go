// Package cmd implements auditctl, the operator CLI for the auditd
// administrative and query surface.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// options are resolved from flags, AUDITCTL_* variables and the config file,
// in that order of precedence.
type options struct {
	v      *viper.Viper
	client *Client
	out    io.Writer
}

func (o *options) output() string {
	return o.v.GetString("output")
}

// print writes v as indented JSON.
func (o *options) print(v any) error {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// so tests can run commands in parallel.
func NewRootCmd(version, commit string) *cobra.Command {
	opts := &options{v: viper.New(), out: os.Stdout}
	var cfgFile string

	root := &cobra.Command{
		Use:   "auditctl",
		Short: "Operate an auditchain daemon",
		Long: `auditctl drives the auditd HTTP surface: submitting and querying
entries, rotating signing keys, verifying the chain, managing retention
policies and confirming deletions.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.out = cmd.OutOrStdout()
			if err := loadConfig(opts.v, cfgFile); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			opts.client = NewClient(
				opts.v.GetString("server"),
				opts.v.GetString("token"),
				opts.v.GetString("operator"),
				opts.v.GetString("operator-key"),
				opts.v.GetDuration("timeout"),
			)
			return nil
		},
		SilenceUsage: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("auditctl version {{.Version}} (commit: %s)\n", commit))

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/auditchain/auditctl.yaml)")
	flags.String("server", "http://localhost:8080", "auditd base URL")
	flags.String("token", "", "admin token (X-Admin-Token)")
	flags.String("operator", "", "operator name recorded on administrative entries")
	flags.String("operator-key", "", "secret the operator's admin bearer tokens are signed with")
	flags.Duration("timeout", 30*time.Second, "request timeout")
	flags.StringP("output", "o", "json", "output format (json or text)")
	for _, name := range []string{"server", "token", "operator", "operator-key", "timeout", "output"} {
		_ = opts.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		newLogCmd(opts),
		newEntriesCmd(opts),
		newProofCmd(opts),
		newKeysCmd(opts),
		newRetentionCmd(opts),
		newVerifyCmd(opts),
		newDeletionsCmd(opts),
		newSinksCmd(opts),
	)
	return root
}

func loadConfig(v *viper.Viper, path string) error {
	v.SetEnvPrefix("AUDITCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Debug("could not determine home directory", "error", err)
			return nil
		}
		v.AddConfigPath(filepath.Join(home, ".config", "auditchain"))
		v.SetConfigName("auditctl")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return err
		}
	}
	return nil
}
