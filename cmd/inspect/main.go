// Command inspect runs a cluster coordinator against a set of seed
// addresses and serves its health/balance/metrics over HTTP, for
// operators who want a quick look at a running cluster's topology.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/valkeygo/valkeygo/cluster"
	"github.com/valkeygo/valkeygo/conn"
	"github.com/valkeygo/valkeygo/internal/debugserver"
	"github.com/valkeygo/valkeygo/internal/logging"
	"github.com/valkeygo/valkeygo/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	seedsFlag := flag.String("seeds", "127.0.0.1:7000", "comma-separated host:port seed list")
	listenFlag := flag.String("listen", ":8080", "debug server listen address")
	flag.Parse()

	logging.SetLogger(logrus.StandardLogger())

	opts := utils.NewClusterOptions(utils.WithSeeds(strings.Split(*seedsFlag, ",")...))

	seeds := make([]conn.Address, 0, len(opts.Seeds))
	for _, s := range opts.Seeds {
		host, portStr, err := splitHostPort(s)
		if err != nil {
			logging.Get().WithError(err).Fatalf("invalid seed %q", s)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			logging.Get().WithError(err).Fatalf("invalid seed port %q", s)
		}
		seeds = append(seeds, conn.Address{Host: host, Port: uint16(port)})
	}

	coordinator := cluster.New(seeds, cluster.Options{
		Factory:      conn.TCPFactory{DialTimeoutFn: func() context.Context { return context.Background() }},
		Protocol:     conn.RESP3,
		MaxRedirects: opts.MaxRedirects,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := coordinator.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Get().WithError(err).Error("coordinator stopped")
		}
	}()

	srv := debugserver.New(coordinator, *listenFlag)
	if err := srv.Run(ctx); err != nil {
		logging.Get().WithError(err).Fatal("debug server stopped")
	}
}

func splitHostPort(s string) (string, string, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return "", "", errNoPort
	}
	return s[:idx], s[idx+1:], nil
}

var errNoPort = portError("missing port in seed address")

type portError string

func (e portError) Error() string { return string(e) }
