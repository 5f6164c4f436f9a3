// Copyright 2016-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	protomind "github.com/fanrarie/ProtoMind"
	log "github.com/fanrarie/ProtoMind/minilog"
)

var (
	f_ir         = flag.String("ir", "", "path to the protocol IR document (required)")
	f_mode       = flag.String("mode", "tcp", "transport mode: tcp, udp, or serial")
	f_targetIP   = flag.String("target-ip", "127.0.0.1", "target IP address (tcp/udp)")
	f_targetPort = flag.Int("target-port", 1883, "target port (tcp/udp)")
	f_serialPort = flag.String("serial-port", "/dev/ttyUSB0", "serial device path (serial)")
	f_capture    = flag.String("capture", "", "output .pcap path (default: <protocol>-<ir-name>-<unix-time>.pcap)")
	f_timeout    = flag.Duration("timeout", 30*time.Second, "total session duration")
)

func main() {
	flag.Parse()
	log.Init()

	if *f_ir == "" {
		fmt.Fprintln(os.Stderr, "protomind: -ir is required")
		flag.Usage()
		os.Exit(1)
	}

	doc, err := protomind.LoadIR(*f_ir)
	if err != nil {
		log.Fatal("loading IR document: %v", err)
	}

	mandatory := protomind.MandatoryInputs(doc)
	log.Debug("protomind: mandatory text fields: %v", mandatory.TextFields)
	log.Debug("protomind: mandatory select fields: %v", mandatory.SelectFields)

	capturePath, err := protomind.RunSession(protomind.SessionConfig{
		Doc:         doc,
		Mode:        *f_mode,
		TargetIP:    *f_targetIP,
		TargetPort:  *f_targetPort,
		SerialPort:  *f_serialPort,
		CapturePath: *f_capture,
		Timeout:     *f_timeout,
	})
	if err != nil {
		log.Fatal("session failed: %v", err)
	}

	log.Info("protomind: session complete, capture written to %s", capturePath)
}
