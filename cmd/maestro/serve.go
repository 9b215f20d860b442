package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Start the Maestro HTTP server.

Endpoints:
  POST /api/tasks                        submit a task
  GET  /api/tasks/:sessionID/events      live progress stream (SSE)
  GET  /api/tasks/:sessionID/context     current session snapshot
  GET  /healthz                          health check`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	stack, err := buildStack()
	if err != nil {
		return err
	}
	defer stack.close()

	addr := stack.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(server.Config{
		Service:        stack.sup,
		Bus:            stack.bus,
		Store:          stack.store,
		AllowedOrigins: stack.cfg.Server.AllowedOrigins,
	})

	fmt.Printf("%s maestro listening on %s\n", color.GreenString("✓"), addr)
	return srv.Run(addr)
}
