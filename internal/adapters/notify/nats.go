package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/metrics"
)

const (
	natsConnectTimeout = 10 * time.Second
	natsReconnectWait  = 5 * time.Second

	subjectClosed  = "closed"
	subjectDeposit = "deposit"
)

// ClosedEvent es el payload publicado en <prefix>.closed.
type ClosedEvent struct {
	ChallengeID string          `json:"challenge_id"`
	GameID      string          `json:"game_id"`
	Trigger     domain.Trigger  `json:"trigger"`
	ClosedAt    time.Time       `json:"closed_at"`
	Winners     []domain.Winner `json:"winners"`
	Payouts     []domain.Payout `json:"payouts"`
}

// NATS publica los eventos de liquidación en subjects <prefix>.closed y <prefix>.deposit.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS conecta con reconexión infinita; el gauge de conexión sigue el estado real.
func NewNATS(url, prefix string) (*NATS, error) {
	if prefix == "" {
		prefix = "tourneyd"
	}
	conn, err := nats.Connect(url,
		nats.Name("tourneyd"),
		nats.Timeout(natsConnectTimeout),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notify.NewNATS: connect %s: %w", url, err)
	}
	metrics.NATSConnectionStatus.Set(1)
	return &NATS{conn: conn, prefix: prefix}, nil
}

// PublishClosed publica ganadores y payouts de un cierre.
func (n *NATS) PublishClosed(_ context.Context, t domain.ClosedTournament) error {
	return n.publish(subjectClosed, ClosedEvent{
		ChallengeID: t.ChallengeID,
		GameID:      t.GameID,
		Trigger:     t.ClosedBy,
		ClosedAt:    t.ClosedAt,
		Winners:     t.Winners,
		Payouts:     t.Payouts,
	})
}

// PublishDeposit publica el recibo de una reconciliación.
func (n *NATS) PublishDeposit(_ context.Context, r domain.DepositReceipt) error {
	return n.publish(subjectDeposit, r)
}

func (n *NATS) publish(kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("notify.NATS: marshal %s: %w", kind, err)
	}
	subject := n.prefix + "." + kind
	if err := n.conn.Publish(subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("notify.NATS: publish %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(kind, "ok").Inc()
	return nil
}

// Close vacía el buffer pendiente y cierra la conexión.
func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
