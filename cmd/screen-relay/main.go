package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/api"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/auth"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/config"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/database"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/event"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/logger"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/relay"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/server"
	"github.com/life-stream-dev/life-stream-go-screen-relay/internal/utils"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	var store database.SessionStore
	if cfg.Database.Enabled {
		if err := database.ConnectDatabase(); err != nil {
			logger.FatalF("Error occured while initializing database, details: %v", err)
			return
		}
		store = database.NewDatabaseStore()
	} else {
		logger.Info("Database disabled, session records kept in memory")
		store = database.NewMemorySessionStore()
	}

	r := relay.New(relay.Options{
		DefaultSession: cfg.Relay.DefaultSession,
		RequestTimeout: utils.ParseStringTimeOr(cfg.Relay.RequestTimeout, 30*time.Second),
		SweepInterval:  utils.ParseStringTimeOr(cfg.Relay.SweepInterval, 5*time.Second),
		ScreenshotDir:  cfg.Relay.ScreenshotDir,
	})

	authenticator := auth.NewAuthenticator(cfg.Relay.SharedToken, cfg.Relay.SessionTokens)

	srv := server.NewServer(server.Options{
		Host:                cfg.Relay.ListenHost,
		Port:                cfg.Relay.ListenPort,
		HealthCheckInterval: utils.ParseStringTimeOr(cfg.Relay.HealthCheckInterval, 60*time.Second),
		InactiveTimeout:     utils.ParseStringTimeOr(cfg.Relay.InactiveTimeout, 120*time.Second),
	}, authenticator, r, store)
	cleaner.Add(server.NewShutdownCallback(srv))

	apiHandler := api.NewHandler(r, srv.Stats, store)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Relay.ListenHost, cfg.AppPort)
		logger.InfoF("Control API listen on %s", addr)
		if err := http.ListenAndServe(addr, apiHandler.Mux()); err != nil {
			logger.ErrorF("Control API server error: %v", err)
		}
	}()

	srv.StartServer()
}
