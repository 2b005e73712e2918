package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/bet-settlement-engine/internal/actor"
	"github.com/radieske/bet-settlement-engine/internal/bet"
	"github.com/radieske/bet-settlement-engine/internal/eventlog"
	"github.com/radieske/bet-settlement-engine/internal/index"
	"github.com/radieske/bet-settlement-engine/internal/odds"
	"github.com/radieske/bet-settlement-engine/internal/producer"
	"github.com/radieske/bet-settlement-engine/internal/registry"
	"github.com/radieske/bet-settlement-engine/internal/settlement"
	"github.com/radieske/bet-settlement-engine/internal/shared/cache"
	"github.com/radieske/bet-settlement-engine/internal/shared/config"
	"github.com/radieske/bet-settlement-engine/internal/shared/db"
	"github.com/radieske/bet-settlement-engine/internal/shared/kafka"
	"github.com/radieske/bet-settlement-engine/internal/shared/logger"
	"github.com/radieske/bet-settlement-engine/internal/shared/metrics"
	"github.com/radieske/bet-settlement-engine/internal/wallet"
	cevents "github.com/radieske/bet-settlement-engine/pkg/contracts/events"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres: log de eventos, snapshots de carteira, registro de eventos esportivos
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis: preços/locks de odds e índice read-side de apostas
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Kafka: eventos de domínio para fora + consumo de pedidos de liquidação
	publ := &producer.KafkaPublisher{
		BetAccepted:           kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetAccepted),
		BetSettled:            kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetSettled),
		SettlementCompleted:   kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementCompleted),
		SettlementCompensated: kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementCompensated),
	}
	defer publ.BetAccepted.Close()
	defer publ.BetSettled.Close()
	defer publ.SettlementCompleted.Close()
	defer publ.SettlementCompensated.Close()

	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicSettlementRequests, "settlement-service")
	defer reader.Close()

	dlqWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicSettlementRequestsDLQ)
	defer dlqWriter.Close()

	// Métricas Prometheus do engine
	betsAccepted := prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_bets_accepted_total", Help: "apostas aceitas"})
	betsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_bets_rejected_total", Help: "apostas recusadas por motivo"}, []string{"reason"})
	betsSettled := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_bets_settled_total", Help: "apostas liquidadas por status"}, []string{"status"})
	walletOps := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_wallet_ops_total", Help: "operações de carteira"}, []string{"op"})
	settlementsDone := prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_settlements_completed_total", Help: "liquidações concluídas"})
	settlementsComp := prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_settlements_compensated_total", Help: "liquidações compensadas"})
	prometheus.MustRegister(betsAccepted, betsRejected, betsSettled, walletOps, settlementsDone, settlementsComp)

	// Runtime de atores e serviços de domínio
	sys := actor.NewSystem(log, cfg.MailboxSize, time.Duration(cfg.ActorIdleSeconds)*time.Second)
	defer sys.Close()

	wallets := wallet.NewService(log, sys, wallet.NewPostgresStore(pg))
	wallets.OnOp = func(op string) { walletOps.WithLabelValues(op).Inc() }

	oddsClient := odds.NewClient(rdb)
	betIndex := index.NewRedisIndex(rdb)
	bets := bet.NewService(log, sys, eventlog.NewPostgresStore(pg), wallets, oddsClient, betIndex, publ, cfg.CashoutFeeBps)
	bets.OnAccepted = func() { betsAccepted.Inc() }
	bets.OnRejected = func(reason string) { betsRejected.WithLabelValues(reason).Inc() }
	bets.OnSettled = func(status string) { betsSettled.WithLabelValues(status).Inc() }

	// ator desativado por ociosidade libera o estado em cache; a próxima
	// mensagem reidrata do log/snapshot
	sys.OnDeactivate = func(addr string) {
		switch {
		case strings.HasPrefix(addr, "bet:"):
			bets.Evict(strings.TrimPrefix(addr, "bet:"))
		case strings.HasPrefix(addr, "wallet:"):
			wallets.Evict(strings.TrimPrefix(addr, "wallet:"))
		}
	}

	coordinator := settlement.NewCoordinator(settlement.Deps{
		Log:           log,
		Sys:           sys,
		Bets:          bets,
		Wallets:       wallets,
		Index:         betIndex,
		Registry:      registry.NewPostgres(pg),
		Publ:          publ,
		OnCompleted:   func() { settlementsDone.Inc() },
		OnCompensated: func() { settlementsComp.Inc() },
	})

	// Servidor de métricas e health
	msrv := metrics.Start(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})
	defer msrv.Close()

	log.Info("settlement-service started",
		zap.String("consume", cfg.TopicSettlementRequests),
		zap.String("metricsPort", cfg.MetricsPort),
	)

	// Loop principal: consome pedidos de liquidação e aciona o coordinator
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down")
				return
			}
			log.Warn("kafka read", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var req cevents.SettlementRequest
		if jerr := json.Unmarshal(msg.Value, &req); jerr != nil {
			log.Error("unmarshal settlement_request", zap.Error(jerr))
			_ = kafka.WriteJSON(ctx, dlqWriter, string(msg.Key), msg.Value)
			continue
		}

		saga, err := coordinator.StartSettlement(ctx, req.MarketID, req.EventID)
		if err != nil {
			sagaID := ""
			if saga != nil {
				sagaID = saga.ID
			}
			log.Error("settlement failed",
				zap.String("marketId", req.MarketID),
				zap.String("sagaId", sagaID),
				zap.Error(err),
			)
			continue
		}
	}
}
