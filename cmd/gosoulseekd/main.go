package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/gosoulseek/gosoulseek/lib/client"
	"github.com/gosoulseek/gosoulseek/lib/config"
	"github.com/gosoulseek/gosoulseek/lib/geoip"
	"github.com/gosoulseek/gosoulseek/lib/netio"
	"github.com/gosoulseek/gosoulseek/lib/protocol"
	"github.com/gosoulseek/gosoulseek/lib/shares"
	"github.com/gosoulseek/gosoulseek/utils/log"

	// Codec implementations register themselves on import. A deployment
	// links the wire codec it speaks here.
)

func main() {
	configFile := flag.String("config", "gosoulseek.yaml", "configuration file path")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Error loading configuration: %s", err)
	}

	zlog, err := log.New(cfg.Logging, nil)
	if err != nil {
		log.Fatalf("Error configuring logger: %s", err)
	}
	defer zlog.Sync()
	log.SetGlobalLogger(zlog.Sugar())

	codec, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		log.Fatalf("Error constructing codec: %s", err)
	}

	// No share database is wired in this binary yet; share nothing but
	// keep the finished-download bookkeeping.
	sharedb := shares.NewFake()

	c := client.New(
		cfg.Client,
		cfg.Transfers,
		tally.NoopScope,
		clock.New(),
		codec,
		geoip.NoopResolver{},
		sharedb,
		nil,
		func(events netio.Events) client.Network {
			return netio.New(cfg.NetIO, tally.NoopScope, clock.New(), codec, events)
		})

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		log.Info("Shutting down")
		c.Stop()
	}()

	if err := c.Run(); err != nil {
		log.Fatalf("Error running client: %s", err)
	}
}
