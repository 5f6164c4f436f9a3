package transport

import (
	"context"
	"errors"
)

var (
	errNotUDPConn  = errors.New("transport: listener is not a UDP connection")
	errNoInterface = errors.New("transport: no multicast-capable interface found")
)

func emptyCtx() context.Context {
	return context.Background()
}
