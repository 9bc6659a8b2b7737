package main

import (
	"log"

	"liqwatch/app"
	"liqwatch/config"
)

func main() {
	cfg := config.LoadFromEnv()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal(err)
	}
}
