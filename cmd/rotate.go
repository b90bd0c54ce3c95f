package cmd

import (
	"time"

	"github.com/credmux/credmux/internal/rotation"
	"github.com/credmux/credmux/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rotateDaemonCmd = &cobra.Command{
	Use:   "rotate-daemon",
	Short: "Sweep active sessions and rotate expired credentials until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		maxAge := viper.GetDuration("rotation_age")
		if d, err := a.store.Defaults(); err == nil && d.RotationAgeSeconds > 0 {
			maxAge = time.Duration(d.RotationAgeSeconds) * time.Second
		}
		driver := &rotation.Driver{
			Engine:   a.engine,
			Store:    a.store,
			Interval: viper.GetDuration("rotation_interval"),
			MaxAge:   maxAge,
		}
		util.Writeln("rotation driver started (age %s, tick %s)", maxAge, viper.GetDuration("rotation_interval"))
		driver.Run(signalContext())
		return nil
	},
}

func init() {
	RootCmd.AddCommand(rotateDaemonCmd)
}
