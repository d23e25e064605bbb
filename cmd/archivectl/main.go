package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/archivekeeper/internal/archivectl"
	"github.com/dmitrijs2005/archivekeeper/internal/flagx"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	args := flagx.Positional(os.Args[1:], config.FlagNames())

	if err := archivectl.NewApp(cfg, os.Stdout).Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}

}
