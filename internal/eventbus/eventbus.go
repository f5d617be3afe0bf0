// Package eventbus publishes coordinator events onto NATS JetStream,
// replacing the teacher's blockchain-event publisher with rebalance and
// job-launch events: an external observer (dashboards, the job launcher)
// can subscribe instead of polling the trace file.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/clusterops/powerbalance/pkg/models"
)

const (
	streamName        = "POWER_COORDINATOR"
	rebalanceSubject  = "power.rebalance"
	jobLaunchSubject  = "power.job.launch"
)

// Publisher wraps a JetStream context bound to the coordinator's stream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zerolog.Logger
}

// Connect dials natsURL, ensures the coordinator's stream exists, and
// returns a ready Publisher. A nil Publisher (with nil error) is
// returned when natsURL is empty: the event bus is optional.
func Connect(ctx context.Context, natsURL string, logger *zerolog.Logger) (*Publisher, error) {
	if natsURL == "" {
		return nil, nil
	}

	nc, err := nats.Connect(natsURL, nats.Name("power-coordinator"))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connecting to %s: %w", natsURL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventbus: creating jetstream context: %w", err)
	}

	if err := createOrUpdateStream(ctx, js); err != nil {
		nc.Close()
		return nil, err
	}

	return &Publisher{nc: nc, js: js, logger: logger}, nil
}

func createOrUpdateStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{rebalanceSubject, jobLaunchSubject},
		MaxAge:   24 * time.Hour,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("eventbus: creating stream %s: %w", streamName, err)
	}
	return nil
}

// PublishRebalance publishes one RebalanceEvent, deduplicated by
// generation so a redelivered message never double-counts downstream.
func (p *Publisher) PublishRebalance(ctx context.Context, ev models.RebalanceEvent) {
	if p == nil {
		return
	}
	p.publish(ctx, rebalanceSubject, fmt.Sprintf("rebalance-%d", ev.Generation), ev)
}

// PublishJobLaunch publishes one JobLaunchEvent.
func (p *Publisher) PublishJobLaunch(ctx context.Context, ev models.JobLaunchEvent) {
	if p == nil {
		return
	}
	msgID := fmt.Sprintf("launch-%s-%d", ev.LauncherPath, ev.DispatchedAt.UnixNano())
	p.publish(ctx, jobLaunchSubject, msgID, ev)
}

func (p *Publisher) publish(ctx context.Context, subject, msgID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		if p.logger != nil {
			p.logger.Error().Err(err).Str("subject", subject).Msg("eventbus: marshal failed")
		}
		return
	}

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		if p.logger != nil {
			p.logger.Warn().Err(err).Str("subject", subject).Msg("eventbus: publish failed")
		}
	}
}

// Healthy reports whether the underlying NATS connection is currently
// connected. A nil Publisher (event bus disabled) is considered healthy.
func (p *Publisher) Healthy() bool {
	if p == nil {
		return true
	}
	return p.nc.Status() == nats.CONNECTED
}

// Close closes the underlying NATS connection without draining it.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.nc.Close()
}
