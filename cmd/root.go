// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/autofix/pipeline"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
)

// app carries state shared by the commands of one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

// pipeline wires a pipeline from the loaded configuration.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	return pipeline.New(a.cfg, observability.GetLogger())
}

// NewRootCommand builds a fresh command tree with its own flag and config state.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "mender",
		Short: "mender repairs failing browser tests with a model-proposed one-line fix.",
		Long: `mender turns a failing browser test's DOM snapshot and error context into a
model request, validates the model's structured reply and applies the proposed
edit to the test source, keeping a backup so the change can be reverted.`,
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(a.v, a.cfgFile)
			if err != nil {
				// Keep a usable logger for the error path.
				observability.InitializeLogger(config.NewDefaultConfig().Logger())
				return err
			}
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting mender", zap.String("version", Version))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./mender.yaml)")
	flags.String("root", "", "project root that test file paths are relative to")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("project.root", flags.Lookup("root"))
	_ = a.v.BindPFlag("logger.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		newCleanDOMCmd(a),
		newBuildPayloadCmd(a),
		newParseFixCmd(a),
		newApplyFixCmd(a),
		newRevertCmd(a),
		newHealCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree against os.Args and reports failures on stderr.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error: interrupted before completion")
		} else {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
		return err
	}
	return nil
}

// loadConfig reads the config file and MENDER_ environment variables.
func loadConfig(v *viper.Viper, cfgFile string) (*config.Config, error) {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("mender")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No mender.yaml in the working directory; defaults and env vars apply.
	}
	return config.NewConfigFromViper(v)
}

// runStage silences usage for failures past argument validation.
func runStage(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return fn(cmd, args)
	}
}
