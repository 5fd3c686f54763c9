package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/metrics"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/registry"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Handoff receives a parsed reading. It must not block on submission; false
// means the reading was not accepted.
type Handoff func(domain.MeterReading) bool

type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// Listener subscribes to every configured push topic and turns broker
// messages into readings.
type Listener struct {
	reg     *registry.Registry
	handoff Handoff
	opts    Options
	metrics *metrics.Metrics

	newClient func(*mqtt.ClientOptions) mqtt.Client
	now       func() time.Time

	client mqtt.Client
	state  atomic.Int32
}

type Option func(*Listener)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Listener) { l.metrics = m }
}

// WithClientFactory replaces mqtt.NewClient, mainly for tests.
func WithClientFactory(fn func(*mqtt.ClientOptions) mqtt.Client) Option {
	return func(l *Listener) { l.newClient = fn }
}

func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

func New(reg *registry.Registry, handoff Handoff, opts Options, extra ...Option) *Listener {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.QoS > 2 {
		opts.QoS = 1
	}
	l := &Listener{
		reg:       reg,
		handoff:   handoff,
		opts:      opts,
		newClient: mqtt.NewClient,
		now:       time.Now,
	}
	for _, o := range extra {
		o(l)
	}
	return l
}

func (l *Listener) State() State { return State(l.state.Load()) }

func (l *Listener) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("push listener state")
	}
}

// Start connects to the broker. Reconnects are left to the paho client; each
// successful (re)connect resubscribes all push topics.
func (l *Listener) Start() error {
	if len(l.reg.Topics()) == 0 {
		log.Info().Msg("no meter has a push topic, push listener idle")
		return nil
	}

	o := mqtt.NewClientOptions().AddBroker(l.opts.Broker)
	if l.opts.ClientID != "" {
		o.SetClientID(l.opts.ClientID)
	}
	if l.opts.Username != "" {
		o.SetUsername(l.opts.Username)
		o.SetPassword(l.opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetCleanSession(true)
	o.SetConnectTimeout(l.opts.ConnectTimeout)
	// handlers run on their own goroutines so a handoff waiting on a full
	// queue cannot stall paho's router and its keepalive
	o.SetOrderMatters(false)
	o.SetOnConnectHandler(l.onConnect)
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("broker connection lost")
		l.setState(Disconnected)
	})
	o.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		l.setState(Connecting)
	})

	l.client = l.newClient(o)
	l.setState(Connecting)

	// with ConnectRetry the token completes on the first attempt even if the
	// broker is down; later attempts happen in the background
	if token := l.client.Connect(); token.WaitTimeout(l.opts.ConnectTimeout) && token.Error() != nil {
		l.setState(Disconnected)
		return fmt.Errorf("mqtt connect %s: %w", l.opts.Broker, token.Error())
	}
	return nil
}

func (l *Listener) onConnect(c mqtt.Client) {
	filters := make(map[string]byte)
	for _, t := range l.reg.Topics() {
		filters[t] = l.opts.QoS
	}
	token := c.SubscribeMultiple(filters, l.handleMessage)
	if !token.WaitTimeout(l.opts.ConnectTimeout) {
		log.Error().Int("topics", len(filters)).Msg("subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Int("topics", len(filters)).Msg("subscribe failed")
		return
	}
	l.setState(Subscribed)
	log.Info().Int("topics", len(filters)).Msg("subscribed to meter push topics")
}

func (l *Listener) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	l.ingest(msg.Topic(), msg.Payload())
}

type payload struct {
	Value *float64 `json:"value"`
	Type  *string  `json:"type"`
}

var errNoValue = errors.New("payload has no value")

func parsePayload(b []byte, meterType domain.MeterType) (float64, domain.ReadingKind, error) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return 0, "", err
	}
	if p.Value == nil {
		return 0, "", errNoValue
	}
	if *p.Value < 0 {
		return 0, "", fmt.Errorf("negative value %v", *p.Value)
	}
	kind := domain.KindFor(meterType)
	if p.Type != nil {
		k, err := domain.ParseReadingKind(*p.Type)
		if err != nil {
			return 0, "", err
		}
		kind = k
	}
	return *p.Value, kind, nil
}

// ingest never panics or blocks on submission; anything it cannot use is
// logged and dropped.
func (l *Listener) ingest(topic string, b []byte) bool {
	receivedAt := l.now().Unix()

	cfg, ok := l.reg.ByTopic(topic)
	if !ok {
		l.metrics.PushDropped("unknown_topic")
		log.Warn().Str("topic", topic).Str("op", "push").Msg("message on unknown topic dropped")
		return false
	}

	value, kind, err := parsePayload(b, cfg.MeterType)
	if err != nil {
		l.metrics.PushDropped("malformed")
		log.Warn().Err(err).Str("meter_id", cfg.MeterID).Str("topic", topic).Str("op", "push").
			Msg("malformed push payload dropped")
		return false
	}

	r := domain.MeterReading{
		MeterID:    cfg.MeterID,
		Value:      value,
		Kind:       kind,
		ObservedAt: receivedAt,
		Unit:       domain.UnitKWh,
		Source:     domain.SourcePush,
	}
	l.metrics.ReadingAcquired(domain.SourcePush)
	log.Debug().Str("meter_id", r.MeterID).Float64("value", r.Value).Str("kind", string(r.Kind)).Msg("push reading")

	return l.handoff != nil && l.handoff(r)
}

func (l *Listener) Stop() {
	if l.client == nil {
		return
	}
	l.client.Disconnect(250)
	l.setState(Disconnected)
}
