package main

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/attest"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/cloud"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/config"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/database"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	httpHandlers "github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/http"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/ledger"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/metrics"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/monitor"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/poller"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/push"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/registry"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/service"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/submission"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if lvl, err := zerolog.ParseLevel(config.LogLevel()); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if len(os.Args) > 1 && os.Args[1] == "init" {
		initFiles()
		return
	}

	os.Exit(run())
}

// initFiles writes a starter meter file and wallet if they are missing.
func initFiles() {
	if err := config.WriteDefaultMeterFile(config.MeterConfigPath()); err != nil {
		log.Warn().Err(err).Msg("meter config not written")
	} else {
		log.Info().Str("path", config.MeterConfigPath()).Msg("default meter config written")
	}

	pub, err := attest.GenerateKeyFile(config.WalletPath())
	if err != nil {
		log.Warn().Err(err).Msg("wallet not generated")
		return
	}
	log.Info().Str("path", config.WalletPath()).Str("public_key", hex.EncodeToString(pub)).Msg("wallet generated")
}

func run() int {
	ctx := context.Background()

	file, err := config.LoadMeterFile(config.MeterConfigPath())
	if err != nil {
		log.Error().Err(err).Msg("meter config load failed")
		return 1
	}
	reg, err := registry.New(file.Meters)
	if err != nil {
		log.Error().Err(err).Msg("meter registry invalid")
		return 1
	}

	key, err := attest.LoadKeyFile(config.WalletPath())
	if err != nil {
		log.Error().Err(err).Msg("wallet load failed, run `bridge init` to create one")
		return 1
	}
	signer := attest.NewSigner(key)
	log.Info().Str("public_key", hex.EncodeToString(signer.PublicKey())).Msg("attestation key loaded")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// a nil oracle makes every submission fail fatally, which halts both producers
	var oracle ledger.Oracle
	if c, err := ledger.NewClient(oracleConfig(file)); err != nil {
		log.Error().Err(err).Msg("oracle client not initialized")
	} else {
		oracle = c
	}

	var db *sqlx.DB
	if dsn := config.DatabaseDSN(); dsn != "" {
		db, err = database.Connect(ctx, dsn)
		if err != nil {
			log.Error().Err(err).Msg("db connect failed")
			return 1
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Error().Err(err).Msg("db migrate failed")
			return 1
		}
	}

	svcs := service.New(db, cloudSinks(ctx))

	pipeline := submission.New(oracle, signer, submission.Options{
		MaxAttempts:    config.SubmitMaxAttempts(),
		InitialBackoff: config.SubmitInitialBackoff(),
		MaxBackoff:     config.SubmitMaxBackoff(),
	}, submission.WithRecorder(svcs.Audit), submission.WithMetrics(m))

	fatal := make(chan error, 2)

	dispatcher := submission.NewDispatcher(config.PushQueueSize(), config.PushWorkers(),
		submission.Policy(config.PushQueuePolicy()),
		func(ctx context.Context, r domain.MeterReading) error {
			_, err := pipeline.Process(ctx, r)
			return err
		},
		submission.WithDispatcherMetrics(m),
		submission.OnFatal(func(err error) { fatal <- err }),
	)
	dispatcher.Start(ctx)

	listener := push.New(reg, dispatcher.Enqueue, push.Options{
		Broker:   config.MQTTBroker(),
		ClientID: config.MQTTClientID() + "-" + uuid.NewString()[:8],
		Username: config.MQTTUsername(),
		Password: config.MQTTPassword(),
		QoS:      config.MQTTQoS(),
	}, push.WithMetrics(m))
	if err := listener.Start(); err != nil {
		log.Error().Err(err).Msg("push listener failed to start")
	}

	loop := monitor.NewLoop(reg, poller.New(config.PollTimeout()), pipeline,
		monitor.WithRecoveryDelay(config.RecoveryDelay()), monitor.WithMetrics(m))
	go func() {
		if err := loop.Start(ctx, config.PollInterval()); err != nil {
			fatal <- err
		}
	}()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httpHandlers.Register(app, httpHandlers.Deps{
		Registry: reg,
		History:  svcs.History,
		Gatherer: promReg,
		Status: httpHandlers.StatusSource{
			Loop:       func() string { return loop.State().String() },
			LastCycle:  func() any { return loop.LastCycle() },
			Listener:   func() string { return listener.State().String() },
			QueueDepth: dispatcher.Len,
		},
	})
	go func() {
		log.Info().Str("addr", config.APIAddr()).Msg("status api listening")
		if err := app.Listen(config.APIAddr()); err != nil {
			log.Error().Err(err).Msg("status api exit")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case err := <-fatal:
		log.Error().Err(err).Msg("submission pipeline halted")
		code = 1
	}

	// in-flight submissions finish; nothing new starts
	loop.Stop()
	listener.Stop()
	dispatcher.Close()
	_ = app.ShutdownWithTimeout(5 * time.Second)
	return code
}

func oracleConfig(file *config.MeterFile) ledger.Config {
	cfg := ledger.Config{
		BaseURL:   config.OracleURL(),
		Contract:  config.OracleContract(),
		APIKey:    config.OracleAPIKey(),
		APISecret: config.OracleAPISecret(),
		ProjectID: config.OracleProjectID(),
		Timeout:   config.OracleTimeout(),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = file.RPCURL
	}
	if cfg.Contract == "" {
		cfg.Contract = file.OracleProgramID
	}
	return cfg
}

func cloudSinks(ctx context.Context) service.Cloud {
	var sinks service.Cloud
	if !config.UseCloudServices() {
		return sinks
	}

	awsCfg, err := cloud.LoadConfig(ctx, config.AWSRegion())
	if err != nil {
		log.Warn().Err(err).Msg("cloud services disabled")
		return sinks
	}
	if t := config.DynamoDBTable(); t != "" {
		ddb := cloud.NewDynamoDBClient(awsCfg, t)
		sinks.Mirror = ddb
		sinks.Reader = ddb
	}
	if b := config.S3Bucket(); b != "" {
		sinks.Archiver = cloud.NewS3Client(awsCfg, b)
	}
	if arn := config.SNSTopicArn(); arn != "" {
		sinks.Alerter = cloud.NewSNSClient(awsCfg, arn)
	}
	log.Info().Bool("dynamodb", sinks.Mirror != nil).Bool("s3", sinks.Archiver != nil).
		Bool("sns", sinks.Alerter != nil).Msg("cloud sinks enabled")
	return sinks
}
