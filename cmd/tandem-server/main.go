// Command tandem-server runs the server side of the tandem network store:
// it opens a repodb repository, wires the head coordinator and watch
// registry around it, and serves the wire protocol over TCP. Everything
// outside this wiring (daemonization, a control socket, log streaming to a
// supervisor) belongs to an external lifecycle manager; this binary only
// exposes the signal handler and structured log stream that collaborator
// consumes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/tandem/internal/headcoord"
	"github.com/i5heu/tandem/internal/repodb"
	"github.com/i5heu/tandem/internal/serverstore"
	"github.com/i5heu/tandem/pkg/rpctransport"
)

func main() {
	addr := flag.String("listen", "127.0.0.1:7417", "address to listen on")
	dataDir := flag.String("data-dir", "./tandem-data", "repository data directory")
	logLevel := flag.String("log-level", "info", "logrus level: debug, info, warn, error")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	if err := run(*addr, *dataDir, entry); err != nil {
		entry.WithError(err).Fatal("tandem-server: exiting")
	}
}

func run(addr, dataDir string, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(dataDir+"/tandem", 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := repodb.Open(repodb.Options{DataDir: dataDir, Logger: log.Logger})
	if err != nil {
		return fmt.Errorf("open repodb: %w", err)
	}
	defer db.Close()

	sidecarPath := dataDir + "/tandem/heads.json"
	coord := headcoord.New(db, sidecarPath, log)
	srv := serverstore.New(db, coord, log)

	tcp := rpctransport.TCP{}
	listener, err := tcp.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, listener)
	}()

	<-srv.Ready()
	log.WithFields(logrus.Fields{"addr": listener.Addr().String()}).Info("tandem-server: ready")

	select {
	case <-ctx.Done():
		log.Info("tandem-server: shutdown signal received")
		listener.Close()
		return nil
	case err := <-errCh:
		return err
	}
}
