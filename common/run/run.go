package run

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/glowbot-gg/glowbot/common"
	"github.com/glowbot-gg/glowbot/common/backgroundworkers"
	"github.com/glowbot-gg/glowbot/common/prom"
	"github.com/glowbot-gg/glowbot/common/pubsub"
	log "github.com/sirupsen/logrus"
)

var (
	flagDryRun       bool
	flagLogTimestamp bool
	flagNodeID       string
	flagVersion      bool
)

func init() {
	flag.BoolVar(&flagDryRun, "dry", false, "Do a dryrun, initialize all plugins but don't actually start anything")
	flag.BoolVar(&flagLogTimestamp, "ts", false, "Set to include timestamps in log")
	flag.StringVar(&flagNodeID, "nodeid", "", "The id of this node, used when running multiple processes")
	flag.BoolVar(&flagVersion, "version", false, "Print the version and exit")
}

// Init parses flags, sets up logging and connects the core backends, call
// before registering plugins that need the database.
func Init() {
	if !flag.Parsed() {
		flag.Parse()
	}

	if flagVersion {
		fmt.Println(common.VERSION)
		os.Exit(0)
	}

	common.NodeID = flagNodeID

	common.AddLogHook(common.ContextHook{})
	common.SetLogFormatter(&log.TextFormatter{
		DisableTimestamp: !flagLogTimestamp,
	})

	log.Info("Starting glowbot version " + common.VERSION)

	err := common.CoreInit(true)
	if err != nil {
		log.WithError(err).Fatal("Failed running core init")
	}

	err = common.Init()
	if err != nil {
		log.WithError(err).Fatal("Failed initializing")
	}

	log.Info("Starting plugins")
}

// Run starts the background workers and blocks until the process is told
// to shut down.
func Run() {
	if flagDryRun {
		log.Println("This is a dry run, exiting")
		return
	}

	prom.RegisterPlugin()
	go pubsub.PollEvents()
	backgroundworkers.RunWorkers()

	listenSignal()
}

// Gracefully shuts down the workers on SIGINT or SIGTERM
func listenSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c

	log.Info("Shutting down, signal: ", sig.String())

	var wg sync.WaitGroup
	backgroundworkers.StopWorkers(&wg)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 10):
		log.Error("Background workers took too long to stop, exiting anyways")
	}

	log.Info("Sleeping for a second to allow log flushing")
	time.Sleep(time.Second)
	os.Exit(0)
}
