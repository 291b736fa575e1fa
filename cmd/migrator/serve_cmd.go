package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/bgross0/data-migrator-sub001/pkg/adapter/odoo"
	"github.com/bgross0/data-migrator-sub001/pkg/routes/health"
	quarantineroutes "github.com/bgross0/data-migrator-sub001/pkg/routes/quarantine"
	"github.com/bgross0/data-migrator-sub001/pkg/routes/runs"
	"github.com/bgross0/data-migrator-sub001/pkg/server"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func newServeCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run, status and quarantine review API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			checker := health.NewChecker(version)
			if a.db != nil {
				checker.Add("postgres", a.db)
			}
			if a.redis != nil {
				rdb := a.redis
				checker.Add("redis", health.PingFunc(func(ctx context.Context) error {
					return rdb.Ping(ctx).Err()
				}))
			}
			if target, ok := a.target.(*odoo.Adapter); ok {
				checker.Add("odoo", health.PingFunc(func(context.Context) error {
					if state := target.BreakerState(); state == gobreaker.StateOpen {
						return fmt.Errorf("circuit breaker %s", state)
					}
					return nil
				}))
			}

			cfg := a.cfg
			srvCfg := server.Config{
				AppName:           cfg.AppName,
				Port:              cfg.Port,
				ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
				WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
				IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
				ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
				AllowOrigins:      cfg.AllowOrigins,
				AllowMethods:      cfg.AllowMethods,
			}
			e := server.New(srvCfg, server.Routes{
				Health:     checker,
				Quarantine: quarantineroutes.NewHandler(a.quarantine),
				Runs:       runs.NewHandler(a.controller),
			}, a.logger)

			checker.SetReady(true)
			return server.Serve(ctx, e, srvCfg, a.logger)
		},
	}
}
