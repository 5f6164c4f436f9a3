// Copyright 2019-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package minilog

// Some color constants for output
const (
	Reset = "\x1b[0000m"

	FgRed    = "\x1b[0031m"
	FgGreen  = "\x1b[0032m"
	FgYellow = "\x1b[0033m"
	FgBlue   = "\x1b[0034m"
)
