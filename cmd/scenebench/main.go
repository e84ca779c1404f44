package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/config"
)

var (
	flagConfig string
	flagAddr   string
	flagDev    bool
)

func main() {
	root := &cobra.Command{
		Use:   "scenebench",
		Short: "Exercise a compositord instance over its websocket channel",
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&flagAddr, "addr", "", "compositord address (overrides config)")
	root.PersistentFlags().BoolVar(&flagDev, "dev", false, "development logging")

	root.AddCommand(newSubmitCmd())
	root.AddCommand(newWatchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	var logger *zap.Logger
	if flagDev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func channelURL(cfg *config.Config) string {
	addr := cfg.Server.Listen
	if flagAddr != "" {
		addr = flagAddr
	}
	return fmt.Sprintf("ws://%s%s", addr, cfg.Server.WSPath)
}
