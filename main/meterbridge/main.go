package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jd3nn1s/meterbridge"
	"github.com/jd3nn1s/meterbridge/forwarder"
	log "github.com/sirupsen/logrus"
)

var configFile = flag.String("config", "meterbridge.toml", "configuration file, relative to the binary unless absolute")
var testMode = flag.Bool("testmode", false, "read a simulated meter over a software serial line")
var printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")

type starter interface {
	Start(ctx context.Context) error
}

func main() {
	log.SetLevel(log.InfoLevel)
	flag.Parse()

	path, err := meterbridge.ConfigPath(*configFile)
	if err != nil {
		log.Fatal("unable to locate configuration: ", err)
	}
	configData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal("unable to read configuration: ", err)
	}
	config, err := meterbridge.LoadConfigFromReader(bytes.NewReader(configData))
	if err != nil {
		log.Fatal(err)
	}
	fwdConfig, err := forwarder.LoadConfigFromReader(bytes.NewReader(configData))
	if err != nil {
		log.Fatal(err)
	}
	if err = meterbridge.ConfigureLogging(config.Log); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := meterbridge.NewBridge(config)
	start := func(name string, s starter) {
		go func() {
			if err := s.Start(ctx); err != nil && err != context.Canceled {
				log.WithField("err", err).Errorf("%s forwarder stopped", name)
			}
		}()
	}
	if fwdConfig.UDP != nil {
		fwder, err := forwarder.NewUDPForwarder(fwdConfig.UDP)
		if err != nil {
			log.Fatal("unable to load UDP forwarder: ", err)
		}
		defer fwder.Close()
		start("udp", fwder)
		b.AddForwarder(fwder)
	}
	if fwdConfig.MQTT != nil {
		fwder, err := forwarder.NewMQTTForwarder(fwdConfig.MQTT)
		if err != nil {
			log.Fatal("unable to load MQTT forwarder: ", err)
		}
		start("mqtt", fwder)
		b.AddForwarder(fwder)
	}
	if fwdConfig.Redis != nil {
		fwder := forwarder.NewRedisForwarder(fwdConfig.Redis)
		defer fwder.Close()
		start("redis", fwder)
		b.AddForwarder(fwder)
	}
	b.SetTestMode(*testMode)
	b.Start(ctx)

	for ctx.Err() == nil {
		changed := b.CheckChannels(ctx)
		if changed {
			if *printTelemetry {
				fmt.Printf("%+v\n", b.Telemetry)
			}
			b.TelemetryUpdate()
		}
	}
	log.Info("meterbridge stopped")
}
