package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/esim-gateway/internal/app"
	"github.com/nimasrn/esim-gateway/internal/config"
	"github.com/nimasrn/esim-gateway/internal/idempotency"
	"github.com/nimasrn/esim-gateway/internal/processor"
	"github.com/nimasrn/esim-gateway/internal/scheduler"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const reconcileBatch = 100

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting esim gateway processor", "version", version, "commit", commit, "date", date)

	readConf, writeConf := app.PostgresConfigs(cfg)
	db, err := pg.CreateReadWrite(readConf, writeConf, cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, app.RedisOptions(cfg))
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	a, err := app.Build(cfg, db, redisAdap)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		return
	}

	var mailer processor.Mailer = processor.LogMailer{}
	if cfg.NotifyRelayURL != "" {
		mailer = processor.NewRelayMailer(cfg.NotifyRelayURL, 10*time.Second)
	}
	idem := idempotency.New(redisAdap, idempotency.DefaultConfig())

	service, err := processor.NewProcessorService(redisAdap, processor.NewNotificationProcessor(mailer, idem), processor.Config{
		Queue:     app.NotificationQueueConfig(cfg),
		Consumers: 2,
		Workers:   8,
	})
	if err != nil {
		logger.Error("failed to create the processor", "error", err)
		return
	}

	sched := scheduler.New(a.Locker)
	for _, job := range []scheduler.Job{
		scheduler.CatalogSyncJob(a.Catalog, cfg.CatalogSyncInterval, cfg.CatalogSyncLockTTL),
		scheduler.ReconcileJob(a.Payments, cfg.ReconcileInterval, cfg.ReconcileMinAge, reconcileBatch),
	} {
		if err := sched.Add(job); err != nil {
			logger.Error("failed to schedule job", "job", job.Name, "error", err)
			return
		}
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}
	sched.Start()

	<-c
	if err := sched.Stop(time.Minute); err != nil {
		logger.Warn("scheduler did not stop cleanly", "error", err)
	}
	service.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
