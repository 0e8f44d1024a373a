package debug

import (
	"errors"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/burre/midiconduit/internal/core/midi"
)

// Direction describes which way a frame travelled relative to the server.
type Direction string

const (
	Inbound  Direction = "peer->server"
	Outbound Direction = "server->peer"
)

var frameDumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	// Dump the raw fields; the Stringer form is already part of the log line.
	DisableMethods:        true,
	DisablePointerMethods: true,
}

// StartPprofServer starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the conduit. See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger logrus.FieldLogger, addr string) *http.Server {
	logger.Infof("starting pprof server on %s", addr)

	srv := &http.Server{Addr: addr, Handler: http.DefaultServeMux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("error starting pprof server: %s", err)
		}
	}()
	return srv
}

// DumpFrame writes the contents of a frame to the logger at debug level.
func DumpFrame(logger logrus.FieldLogger, dir Direction, peer string, msg midi.Message) {
	raw := msg.Bytes()
	logger.WithFields(logrus.Fields{
		"direction": dir,
		"peer":      peer,
	}).Debugf("frame % X (%v)\n%s", raw[:], msg, frameDumper.Sdump(msg))
}
