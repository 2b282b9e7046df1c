package main

import (
	"context"
	"log"

	"github.com/m3rciful/dispatchbot/bot"
	corecmd "github.com/m3rciful/dispatchbot/core/cmd"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			return bot.LoadConfig(path)
		},
		Bootstrap: func(ctx context.Context, cfg corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			return bot.Bootstrap(ctx, cfg.(*bot.Config))
		},
	})
	if err != nil {
		log.Fatalf("dispatchbot: %v", err)
	}
}
