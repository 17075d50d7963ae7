package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/minexhq/minex/params"
	"github.com/minexhq/minex/pkg/api"
	"github.com/minexhq/minex/pkg/broadcast"
	"github.com/minexhq/minex/pkg/exchange"
	"github.com/minexhq/minex/pkg/storage"
	"github.com/minexhq/minex/pkg/stream"
	"github.com/minexhq/minex/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Storage.DataDir, "trades"))
	if err != nil {
		log.Fatalw("open trade store", "err", err)
	}
	defer store.Close()

	// ---- Subscriptions ----
	registry := broadcast.NewMemoryRegistry(cfg.Broadcast.ConnectionTTL, util.RealClock{})

	engineCfg := exchange.DefaultConfig()
	engineCfg.SeenCapacity = cfg.Engine.SeenCapacity
	engineCfg.BlockSelfTrade = cfg.Engine.BlockSelfTrade
	engineCfg.PersistMaxRetries = cfg.Engine.PersistMaxRetries
	engineCfg.RetryBase = cfg.Engine.RetryBase
	engineCfg.RetryMax = cfg.Engine.RetryMax

	bcastCfg := broadcast.DefaultConfig()
	bcastCfg.JanitorPeriod = cfg.Broadcast.JanitorPeriod

	kafkaMode := len(cfg.Kafka.Brokers) > 0

	var (
		engine    *exchange.Engine
		orderSink stream.OrderSink
	)

	// ---- Streams + Engine ----
	// With Kafka brokers configured, orders and trades travel through
	// symbol-keyed topics so multiple processes can share the load. Without
	// them everything runs over in-process channels, single node.
	var inOrders *stream.InProcOrders
	var inTrades *stream.InProcTrades
	if kafkaMode {
		tradeWriter := stream.NewKafkaTradeWriter(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic)
		defer tradeWriter.Close()
		engine = exchange.NewEngine(store, tradeWriter, logger, engineCfg)

		orderWriter := stream.NewKafkaOrderWriter(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic)
		defer orderWriter.Close()
		orderSink = orderWriter
	} else {
		inTrades = stream.NewInProcTrades(0)
		engine = exchange.NewEngine(store, inTrades, logger, engineCfg)

		inOrders = stream.NewInProcOrders(0)
		orderSink = inOrders
	}
	defer engine.Close()

	// ---- API + Broadcast ----
	server := api.NewServer(engine, orderSink, store, registry, logger)
	bcaster := broadcast.New(registry, server.Hub(), logger, bcastCfg)
	go bcaster.RunJanitor(ctx, registry)

	if kafkaMode {
		orderReader := stream.NewKafkaOrderReader(cfg.Kafka.Brokers, cfg.Kafka.OrdersTopic, cfg.Kafka.GroupID, logger)
		defer orderReader.Close()
		go func() {
			if err := orderReader.Run(ctx, engine.Submit); err != nil && ctx.Err() == nil {
				log.Errorw("order consumer stopped", "err", err)
				stop()
			}
		}()

		tradeReader := stream.NewKafkaTradeReader(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, cfg.Kafka.GroupID, logger)
		defer tradeReader.Close()
		go func() {
			if err := tradeReader.Run(ctx, bcaster.HandleTrade); err != nil && ctx.Err() == nil {
				log.Errorw("trade consumer stopped", "err", err)
				stop()
			}
		}()
	} else {
		go inOrders.Run(ctx, engine.Submit)
		go bcaster.Run(ctx, inTrades.Trades())
	}

	log.Infow("exchange node starting",
		"addr", cfg.HTTP.Addr,
		"data_dir", cfg.Storage.DataDir,
		"kafka", kafkaMode,
	)

	if err := server.Start(ctx, cfg.HTTP.Addr); err != nil {
		log.Fatalw("server failed", "err", err)
	}

	log.Infow("shutdown complete", "duplicates_discarded", engine.DuplicateCount())
}
