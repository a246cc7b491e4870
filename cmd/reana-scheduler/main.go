package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kounelisagis/reana-server/internal/common"
	"github.com/kounelisagis/reana-server/internal/common/health"
	"github.com/kounelisagis/reana-server/internal/scheduler"
	"github.com/kounelisagis/reana-server/internal/scheduler/configuration"
)

const customConfigLocation string = "config"

func init() {
	pflag.String(customConfigLocation, "", "Fully qualified path to a config override file")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.SchedulerConfig
	userSpecifiedConfig := viper.GetString(customConfigLocation)
	common.LoadConfig(&config, "./config/reana-scheduler", userSpecifiedConfig)

	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	startupChecker := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupChecker)
	shutdownHealth := common.ServeHealth(config.HealthPort, healthChecks)
	defer shutdownHealth()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startupChecker.MarkComplete()
	if err := scheduler.Serve(ctx, &config, healthChecks); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}
