// Copyright 2016-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package protomind drives a specification-described protocol conversation
// against a live target, synthesizing conformant (and optionally mutated)
// messages from a declarative IR document and recording every exchanged
// byte to a .pcap capture.
package protomind

import (
	"fmt"
	"time"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/driver"
	"github.com/fanrarie/ProtoMind/internal/ir"
	"github.com/fanrarie/ProtoMind/internal/transport"
)

// LoadIR parses and validates the IR document at path, consulting the
// process-wide parse cache so repeated calls for the same path within one
// process share parse work.
func LoadIR(path string) (*ir.IR, error) {
	return ir.Default.Load(path)
}

// MandatoryInputs returns the always-present catalog of inputs a host must
// collect before calling RunSession.
func MandatoryInputs(doc *ir.IR) ir.MandatoryFields {
	return doc.Mandatory
}

// SessionConfig is the set of caller-supplied values RunSession needs beyond
// the parsed IR document.
type SessionConfig struct {
	Doc *ir.IR

	// Mode selects "tcp", "udp", or "serial". TargetIP/TargetPort are used
	// for tcp/udp; SerialPort is used for serial — exactly the mandatory
	// text/select fields the IR's catalog names.
	Mode       string
	TargetIP   string
	TargetPort int
	SerialPort string

	// CapturePath is where the session's .pcap is written. If empty, a
	// name derived from the IR's source path and the current time is used.
	CapturePath string

	// Timeout bounds the whole session; zero means the 30s default.
	Timeout time.Duration
}

// RunSession drives one time-bounded fuzzing conversation and returns the
// path to the capture file it produced. Recoverable failures (a dropped
// connection, a missed response, an unrecognized reply) are logged and
// handled internally; RunSession only returns an error for unrecoverable
// setup problems.
func RunSession(cfg SessionConfig) (string, error) {
	if cfg.Doc == nil {
		return "", fmt.Errorf("protomind: RunSession requires a loaded IR document")
	}

	protocol, err := ir.ProtocolFromPath(cfg.Doc.SourcePath)
	if err != nil {
		log.Warn("protomind: %v, defaulting to mqtt framing", err)
		protocol = "mqtt"
	}

	capturePath := cfg.CapturePath
	if capturePath == "" {
		capturePath = fmt.Sprintf("%s-%s-%d.pcap", protocol, baseName(cfg.Doc.SourcePath), time.Now().Unix())
	}

	driverCfg := driver.Config{
		Doc:      cfg.Doc,
		Protocol: protocol,
		Transport: transport.Config{
			Protocol:   protocol,
			Mode:       cfg.Mode,
			TargetIP:   cfg.TargetIP,
			TargetPort: cfg.TargetPort,
			SerialPort: cfg.SerialPort,
		},
		CapturePath: capturePath,
		Timeout:     cfg.Timeout,
	}

	return driver.Run(driverCfg)
}

// baseName strips any directory components and the trailing extension from
// an IR source path, for use in a default capture file name.
func baseName(path string) string {
	base := path
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
