package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/credmux/credmux/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const selfName = "credmux"

const defaultRotationAge = 20 * time.Minute

var (
	cfgFile         string
	workspacePath   string
	credentialsFile string
	verbose         bool

	RootCmd = &cobra.Command{
		Use:   selfName,
		Short: "Hold many cloud-identity sessions, activate one per profile",
		Long: `credmux keeps a workspace of cloud-identity sessions (IAM user, federated or
chained IAM roles, AWS SSO roles, Azure subscriptions) and materializes
short-lived credentials for the active one per named profile into the shared
AWS credentials file.`,
	}
)

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		util.Exit(err)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $HOME/.credmux.yaml)")
	RootCmd.PersistentFlags().StringVarP(&workspacePath, "workspace", "w", "", "workspace document path (default $HOME/.credmux/workspace.json)")
	RootCmd.PersistentFlags().StringVarP(&credentialsFile, "credentials-file", "", "", "shared AWS credentials file to write profile blocks to")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(fmt.Sprintf(".%s", selfName))
	}

	viper.SetEnvPrefix(selfName)
	viper.AutomaticEnv()

	viper.SetDefault("rotation_age", defaultRotationAge)
	viper.SetDefault("rotation_interval", time.Second)
	viper.SetDefault("login_timeout", 5*time.Minute)
	viper.SetDefault("login_poll_interval", 5*time.Second)
	viper.SetDefault("session_duration", time.Hour)

	util.IsTraceEnabled = verbose

	if err := viper.ReadInConfig(); err == nil {
		util.Traceln("Using config file: %s", viper.ConfigFileUsed())
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	cobra.CheckErr(err)
	return home
}

func resolvedWorkspacePath() string {
	if workspacePath != "" {
		return workspacePath
	}
	if p := viper.GetString("workspace"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), fmt.Sprintf(".%s", selfName), "workspace.json")
}

func browserDataDir() string {
	if p := viper.GetString("browser_datadir"); p != "" {
		return p
	}
	return filepath.Join(homeDir(), fmt.Sprintf(".%s", selfName), "browser")
}
