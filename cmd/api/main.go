package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/esim-gateway/internal/app"
	"github.com/nimasrn/esim-gateway/internal/config"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
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

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting esim gateway api", "version", version, "commit", commit, "date", date)

	if cfg.JwtSecret == "" {
		logger.Error("JWT_SECRET is required")
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(s.RequestTimeout()))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	if cfg.RateLimitRPS > 0 {
		s.Use(xhttp.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	s.Router = xhttp.CreateDefaultRouter()

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

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}()

	auth := xhttp.NewAuthenticator(cfg.JwtSecret, cfg.JwtIssuer)
	a.Mount(s.Router.Group(cfg.HttpBaseRequestUrl), auth)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
	if err := a.Notifications.Stop(10 * time.Second); err != nil {
		logger.Warn("notification queue did not stop cleanly", "error", err)
	}
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
