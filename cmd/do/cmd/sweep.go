package cmd

import (
	"fmt"
	"time"

	"github.com/onetimeview/onetimeview/internal/app"
	"github.com/onetimeview/onetimeview/internal/config"
	"github.com/onetimeview/onetimeview/internal/logger"
	"github.com/spf13/cobra"
)

func SweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired secrets, download links and their files once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init(cfg.IsDevelopment(), cfg.SentryDSN)
			defer logger.Flush()

			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			start := time.Now()
			res, err := a.SecretService.Sweep(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "removed %d secrets, %d download links, %d files (%s)\n",
				res.Secrets, res.Handoffs, res.FilesDeleted, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
