package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/chatlink"
	"github.com/hupe1980/chatlink/httpapi"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the HTTP API",
	Long: `Starts the HTTP API, exposing session management and prompt
submission for headless clients. Tool servers from the config are launched
before the listener comes up.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := buildLogger(cfg)

		c, err := chatlink.New(func(o *chatlink.Options) {
			o.Config = cfg
			o.Logger = logger
		})
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Start(cmd.Context()); err != nil {
			return err
		}

		srv := httpapi.New(c, c.Store(), func(o *httpapi.Options) {
			o.Pool = c.Pool()
			o.Logger = logger
		})

		addr := cfg.ListenAddr
		if listenAddr != "" {
			addr = listenAddr
		}

		return srv.ListenAndServe(addr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
