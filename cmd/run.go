package cmd

import (
	"log"

	"github.com/TacoContent/tacobot/tacobot"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the TacoBot discord bot, HTTP API and metrics exporter",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := tacobot.New(cfg)
		if err != nil {
			log.Fatalf("error creating tacobot: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running tacobot: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
