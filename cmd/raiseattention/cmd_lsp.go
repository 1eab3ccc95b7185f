package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/raiseattention/raiseattention/internal/lspserver"
	"github.com/raiseattention/raiseattention/internal/session"
)

var lspTCPAddr string

var lspCmd = &cobra.Command{
	Use:   "lsp [root]",
	Short: "Run the Language Server Protocol frontend",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLSP,
}

func init() {
	lspCmd.Flags().StringVar(&lspTCPAddr, "tcp", "", "serve over a websocket at this address instead of stdio")
}

func runLSP(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}

	sess, err := session.New(ctx, root, session.Options{}, logger)
	if err != nil {
		return internalErrorExit(err)
	}
	defer sess.Close()

	srv := lspserver.NewServer(sess, logger)

	if lspTCPAddr != "" {
		return srv.ServeTCP(ctx, lspTCPAddr)
	}
	return srv.ServeStdio(ctx)
}
