package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/SystemBuilders/LockMgr/internal/config"
	"github.com/SystemBuilders/LockMgr/internal/lockclient"
	"github.com/SystemBuilders/LockMgr/internal/locker"
	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/node"
	"github.com/SystemBuilders/LockMgr/internal/resource"
	"github.com/SystemBuilders/LockMgr/internal/routing"
	"github.com/SystemBuilders/LockMgr/internal/ticket"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	host := flag.String("host", "", "lock server host")
	port := flag.Int("port", 0, "lock server port")
	logLevel := flag.String("log-level", "", "log level")
	status := flag.Bool("status", false, "print the state of a running server and exit")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("loading config")
		}
	}
	cfg.LoadFromFlags(*host, *port, *logLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.Level())

	if *status {
		if err := printStatus(cfg); err != nil {
			log.Fatal().Err(err).Msg("querying server")
		}
		return
	}

	resource.SetLabelCacheSize(cfg.LabelCacheSize)

	mgr := lockmanager.New(log.With().Str("component", "lockmanager").Logger())

	opts := []locker.Option{
		locker.WithDeadlockCheckInterval(cfg.DeadlockCheck()),
	}
	if cfg.FlushLock {
		opts = append(opts, locker.WithHierarchy(locker.FlushHierarchy()))
	}
	service := &routing.Service{
		Log: log.With().Str("component", "routing").Logger(),
	}
	var read, write locker.TicketSource
	if cfg.ReadTickets > 0 {
		service.ReadTickets = newHolder(log, cfg.ReadTickets)
		read = service.ReadTickets
	}
	if cfg.WriteTickets > 0 {
		service.WriteTickets = newHolder(log, cfg.WriteTickets)
		write = service.WriteTickets
	}
	opts = append(opts, locker.WithTickets(read, write))
	service.Env = locker.NewEnvironment(mgr, log.With().Str("component", "locker").Logger(), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lockmanager.NewCleaner(mgr, cfg.Cleanup(), log).Run(ctx)
		return nil
	})
	g.Go(func() error {
		return node.Start(ctx, cfg.Addr(), service, log)
	})
	err := g.Wait()
	if n := service.EndSessions(); n > 0 {
		log.Info().Int("sessions", n).Msg("released remote locker sessions")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("lock server")
	}
}

func newHolder(log zerolog.Logger, n int) *ticket.Holder {
	h, err := ticket.NewHolder(n)
	if err != nil {
		log.Fatal().Err(err).Int("tickets", n).Msg("creating ticket pool")
	}
	return h
}

type serverStatus struct {
	Locks   interface{} `json:"locks"`
	Stats   interface{} `json:"stats"`
	Tickets interface{} `json:"tickets"`
}

func printStatus(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sc := lockclient.NewSimpleClient(lockclient.NewSimpleConfig(cfg.Host, strconv.Itoa(cfg.Port)), nil)
	var st serverStatus
	var err error
	if st.Locks, err = sc.Locks(ctx); err != nil {
		return err
	}
	if st.Stats, err = sc.Stats(ctx); err != nil {
		return err
	}
	if st.Tickets, err = sc.Tickets(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}
