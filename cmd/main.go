package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/api/graph"
	"github.com/0xsysr3ll/electledger/internal/api/rest"
	intkafka "github.com/0xsysr3ll/electledger/internal/kafka"
	"github.com/0xsysr3ll/electledger/internal/lock"
	"github.com/0xsysr3ll/electledger/internal/model"
	"github.com/0xsysr3ll/electledger/internal/repository"
	"github.com/0xsysr3ll/electledger/internal/service"
)

const (
	bootstrapLockName  = "electledger:bootstrap:lock"
	lockAcquireTimeout = 30 * time.Second
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to the configuration file")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.WithField("path", *configPath).Info("configuration loaded")

	mysqlLedger, err := repository.NewMySQLLedger(&cfg.MySQL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize mysql ledger")
	}
	defer mysqlLedger.Close()

	if err := mysqlLedger.EnsureSchema(); err != nil {
		log.WithError(err).Fatal("failed to prepare ledger schema")
	}
	log.Info("ledger schema ready")

	var cache *repository.RedisCache
	if cfg.Redis.DataAddress != "" {
		cache, err = repository.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize redis cache")
		}
		defer cache.Close()
		log.Info("redis cache ready")
	}

	electionService := service.NewElectionService(mysqlLedger, cache, log)

	// One instance wins the bootstrap lock and reconciles first; the losers
	// reconcile afterwards anyway. Reconciliation is idempotent, so the lock
	// is an optimization against duplicate-key races, never a correctness
	// requirement.
	distributedLock, err := lock.New(cfg, log)
	if err != nil {
		log.WithError(err).Warn("distributed lock unavailable, bootstrapping without it")
	} else {
		defer distributedLock.Close()
		acquired, err := distributedLock.AcquireLock(bootstrapLockName, lockAcquireTimeout)
		if err != nil {
			log.WithError(err).Warn("failed to acquire bootstrap lock, bootstrapping anyway")
		} else if acquired {
			defer distributedLock.ReleaseLock(bootstrapLockName)
			log.Info("bootstrap lock acquired")
		} else {
			log.Info("another instance holds the bootstrap lock, reconciling after it")
		}
	}

	specs := make([]model.CandidateSpec, 0, len(cfg.Election.Candidates))
	for _, c := range cfg.Election.Candidates {
		specs = append(specs, model.CandidateSpec{Name: c.Name, Description: c.Description})
	}

	if err := electionService.ReconcileCandidates(specs); err != nil {
		log.WithError(err).Fatal("candidate reconciliation failed")
	}
	if err := electionService.ReconcileVoters(cfg.Election.Voters); err != nil {
		log.WithError(err).Fatal("voter reconciliation failed")
	}
	log.WithFields(logrus.Fields{
		"candidates": len(cfg.Election.Candidates),
		"voters":     len(cfg.Election.Voters),
	}).Info("bootstrap reconciliation complete")

	producer, err := intkafka.NewProducer(&cfg.Kafka)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize kafka producer")
	}
	defer producer.Close()

	consumer, err := intkafka.NewConsumer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize kafka consumer")
	}
	defer consumer.Stop()

	consumer.Start(electionService.ProcessCastVoteEvent)

	graphqlServer := graph.NewGraphQLServer(electionService, &cfg.GraphQL, log)
	go func() {
		if err := graphqlServer.Start(cfg.Server.GraphQLPort); err != nil {
			log.WithError(err).Fatal("graphql server failed")
		}
	}()

	restServer := rest.NewServer(electionService, producer, log)
	go func() {
		if err := restServer.Start(cfg.Server.RESTPort); err != nil {
			log.WithError(err).Fatal("rest server failed")
		}
	}()

	log.Info("electledger started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
}
