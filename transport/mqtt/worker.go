// Package mqtt - MQTT RPC boundary of the region swap service.
package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/nvr-ai/regionswap/logger"
	"github.com/nvr-ai/regionswap/metrics"
	"github.com/nvr-ai/regionswap/pipeline"
	"github.com/nvr-ai/regionswap/server"
	"github.com/pkg/errors"
)

// Config configures the MQTT worker.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// ClientID defaults to a random UUID.
	ClientID       string        `yaml:"client_id"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultConfig returns a disabled worker pointed at a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		TopicPrefix:    "/regionswap",
		KeepAlive:      2 * time.Second,
		ConnectTimeout: 30 * time.Second,
		RequestTimeout: 2 * time.Minute,
	}
}

// RequestTopic is the topic requests are read from.
func (c Config) RequestTopic() string {
	return strings.TrimRight(c.TopicPrefix, "/") + "/rpc/processImages/request"
}

// ResponseTopic is the topic the response to requestID is published to.
func (c Config) ResponseTopic(requestID string) string {
	return strings.TrimRight(c.TopicPrefix, "/") + "/rpc/processImages/response/" + requestID
}

// Worker answers processImages requests received over MQTT.
type Worker struct {
	processor server.Processor
	metrics   *metrics.Metrics
	cfg       Config
	log       logger.Module
	client    paho.Client
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewWorker creates a Worker. m may be nil.
func NewWorker(processor server.Processor, m *metrics.Metrics, cfg Config, l *logger.Logger) *Worker {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.New().String()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		processor: processor,
		metrics:   m,
		cfg:       cfg,
		log:       logger.For(l, "RPC"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects to the broker and subscribes to the request topic, again on
// every reconnect.
func (w *Worker) Start() error {
	opts := paho.NewClientOptions().AddBroker(w.cfg.Broker).SetClientID(w.cfg.ClientID)
	if w.cfg.Username != "" {
		opts.SetUsername(w.cfg.Username)
		opts.SetPassword(w.cfg.Password)
	}
	opts.SetKeepAlive(w.cfg.KeepAlive)
	opts.SetPingTimeout(time.Second)
	opts.SetConnectTimeout(w.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(c paho.Client) {
		w.log.Info("connected to %s", w.cfg.Broker)
		token := c.Subscribe(w.cfg.RequestTopic(), w.cfg.QoS, func(c paho.Client, m paho.Message) {
			go w.handleMessage(c, m.Payload())
		})
		if token.Wait() && token.Error() != nil {
			w.log.Error("subscribe %s: %v", w.cfg.RequestTopic(), token.Error())
			return
		}
		w.log.Info("subscribed to %s", w.cfg.RequestTopic())
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		w.log.Warn("connection lost: %v", err)
	}

	w.log.Info("connecting to %s with client ID %s", w.cfg.Broker, w.cfg.ClientID)
	w.client = paho.NewClient(opts)
	if token := w.client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "mqtt connect")
	}
	return nil
}

// Stop cancels in-flight requests and disconnects.
func (w *Worker) Stop() {
	w.cancel()
	if w.client != nil && w.client.IsConnected() {
		w.client.Disconnect(250)
	}
}

func (w *Worker) handleMessage(c paho.Client, payload []byte) {
	topic, resp, err := w.HandlePayload(w.ctx, payload)
	if err != nil {
		w.log.Warn("dropping request: %v", err)
		return
	}
	w.log.Info("sending response to %s", topic)
	if token := c.Publish(topic, w.cfg.QoS, false, resp); token.Wait() && token.Error() != nil {
		w.log.Error("publish %s: %v", topic, token.Error())
	}
}

// HandlePayload processes one request payload and builds the reply.
//
// Arguments:
//   - ctx: Parent context; Config.RequestTimeout is applied on top.
//   - payload: The JSON request, carrying requestId.
//
// Returns:
//   - string: The response topic.
//   - []byte: The JSON response, the default HTTP body plus an error field.
//   - error: Only when no reply can be addressed: the payload has no requestId,
//     or the requestId is not a single topic level.
func (w *Worker) HandlePayload(ctx context.Context, payload []byte) (string, []byte, error) {
	var head struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.RequestID == "" {
		return "", nil, errors.Wrap(server.ErrInvalidRequest, "payload without requestId")
	}
	// The id becomes the last level of the response topic.
	if strings.ContainsAny(head.RequestID, "/+#\x00") {
		return "", nil, errors.Wrapf(server.ErrInvalidRequest, "requestId %q is not a valid topic level", head.RequestID)
	}
	topic := w.cfg.ResponseTopic(head.RequestID)
	log := w.log.With("req=" + head.RequestID)
	log.Info("request received")

	start := time.Now()
	status := "ok"
	if w.metrics != nil {
		w.metrics.InFlight.Add(1)
		defer func() {
			w.metrics.InFlight.Add(-1)
			w.metrics.ObserveRequest("mqtt", status, time.Since(start))
		}()
	}

	resp := server.ProcessResponse{
		RequestID: head.RequestID,
		Images:    []server.ProcessedImage{},
		Failed:    []server.FailedImage{},
	}
	req, err := server.ParseRequest(payload)
	if err != nil {
		status = "invalid"
		resp.Error = err.Error()
		return topic, marshal(resp), nil
	}

	if w.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.RequestTimeout)
		defer cancel()
	}
	result, err := w.processor.Process(ctx, req)
	if result != nil {
		resp = server.NewResponse(result)
		resp.RequestID = head.RequestID
	}
	if err != nil {
		status = "failed"
		if errors.Is(err, pipeline.ErrAllImagesFailed) {
			status = "all_failed"
		}
		resp.Error = err.Error()
	}
	log.Info("%d image(s) processed, %d failed", len(resp.Images), len(resp.Failed))
	return topic, marshal(resp), nil
}

func marshal(resp server.ProcessResponse) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"error":` + strconv.Quote(err.Error()) + `}`)
	}
	return b
}
