package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/archivekeeper/internal/server"
	"github.com/dmitrijs2005/archivekeeper/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("archive server: %v", err)
	}

	app.Run(ctx)

}
