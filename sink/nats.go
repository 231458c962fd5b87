package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/maastricht-university/affect-pipeline/orchestrator"
)

const (
	natsConnectTimeout = 10 * time.Second
	natsMaxReconnects  = 10
)

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes every reading as JSON on <subject>.<channel>.
type NATS struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	log     logrus.FieldLogger
}

// DialNATS connects to url.
func DialNATS(url, subject string, log logrus.FieldLogger) (*NATS, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("affectd"),
		nats.Timeout(natsConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(natsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	n := NewNATS(nc, subject, log)
	n.conn = nc
	log.WithField("url", url).Info("connected to NATS")
	return n, nil
}

// NewNATS publishes through pub.
func NewNATS(pub Publisher, subject string, log logrus.FieldLogger) *NATS {
	return &NATS{pub: pub, subject: subject, log: log.WithField("component", "nats")}
}

// Subject returns the subject readings of channel n are published on.
func (n *NATS) Subject(ch orchestrator.Name) string {
	return n.subject + "." + string(ch)
}

// Publish sends r. Failures are logged; the pipeline never waits on NATS.
func (n *NATS) Publish(r orchestrator.Reading) {
	data, err := json.Marshal(r)
	if err != nil {
		n.log.WithError(err).Error("encode reading")
		return
	}
	if err := n.pub.Publish(n.Subject(r.Channel), data); err != nil {
		n.log.WithError(err).WithField("channel", r.Channel).Warn("nats publish")
	}
}

// Close drains the connection opened by DialNATS.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
