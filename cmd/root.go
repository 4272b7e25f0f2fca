// Package cmd wires the modulate CLI: registry bookkeeping commands plus
// the sync command that deploys the active overlay to the working directory.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modulate-dev/modulate/internal/lockfile"
	"github.com/modulate-dev/modulate/internal/overlay"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "modulate",
	Short: "Overlay prioritized mod trees onto a working directory with hard links",
	Long: `Modulate registers mod directories, stacks the enabled ones by priority
and keeps a working directory synchronized with that stack. Files are
placed as hard links, and anything a mod overwrites is preserved in a
backup directory until no mod claims the path anymore.

Registry changes (add, enable, order, ...) are bookkeeping only; nothing
touches the working directory until "modulate sync".`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: <user config dir>/modulate/config.toml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every filesystem operation")
	flags.String("working-dir", "", "directory the overlay deploys into")
	flags.String("backup-dir", "", "directory holding backups of overwritten files")
	flags.String("state-file", "", "registry and deployment state file")
	flags.String("lock-file", "", "lock file guarding concurrent invocations")

	for flag, key := range map[string]string{
		"working-dir": "working_dir",
		"backup-dir":  "backup_dir",
		"state-file":  "state_file",
		"lock-file":   "lock_file",
	} {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}
}

func initConfig() {
	if dir, err := os.UserConfigDir(); err == nil {
		appDir := filepath.Join(dir, "modulate")
		viper.AddConfigPath(appDir)
		viper.SetDefault("backup_dir", filepath.Join(appDir, "bak"))
		viper.SetDefault("state_file", filepath.Join(appDir, "state.json"))
		viper.SetDefault("lock_file", filepath.Join(appDir, "modulate.lock"))
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}
	viper.SetEnvPrefix("MODULATE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cobra.CheckErr(err)
		}
	}
}

func newLogger() *log.Logger {
	opts := log.Options{Prefix: "modulate"}
	if verbose {
		opts.Level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, opts)
}

// withManager acquires the cross-process lock, builds the overlay manager
// from the effective configuration and runs fn under the lock.
func withManager(fn func(*overlay.Manager) error) error {
	workDir := viper.GetString("working_dir")
	if workDir == "" {
		return errors.New("working_dir is not set (use --working-dir or the config file)")
	}

	lock, err := lockfile.Acquire(viper.GetString("lock_file"))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	m, err := overlay.New(overlay.Options{
		WorkDir:   workDir,
		BakDir:    viper.GetString("backup_dir"),
		StatePath: viper.GetString("state_file"),
		Logger:    newLogger(),
	})
	if err != nil {
		return err
	}
	return fn(m)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
