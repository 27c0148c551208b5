package main

import (
	"log"

	"github.com/recordlock/recordlock/core/infra/buildinfo"
	"github.com/recordlock/recordlock/core/infra/config"
	"github.com/recordlock/recordlock/core/service"
)

func main() {
	log.Println("recordlockd starting...")
	buildinfo.Log("recordlockd")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := service.Run(cfg); err != nil {
		log.Fatalf("recordlockd error: %v", err)
	}
}
