package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"auditchain/internal/audit/models"
)

// Sink delivers batches to one external target. Adapters own the wire format.
type Sink interface {
	Name() string
	Send(ctx context.Context, batch []models.Entry) error
}

// PermanentError marks a failure retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the manager drops the batch without retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// =============================================================================
// Kafka
// =============================================================================

// KafkaSink produces one JSON record per entry, keyed by entry ID so a
// replayed batch lands on the same partition.
type KafkaSink struct {
	name   string
	topic  string
	client *kgo.Client
}

// NewKafkaSink connects a producer. Extra kgo options are appended to the defaults.
func NewKafkaSink(name string, brokers []string, topic string, opts ...kgo.Opt) (*KafkaSink, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{name: name, topic: topic, client: client}, nil
}

func (k *KafkaSink) Name() string { return k.name }

// EnsureTopic creates the topic if it does not exist.
func (k *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (k *KafkaSink) Send(ctx context.Context, batch []models.Entry) error {
	records := make([]*kgo.Record, 0, len(batch))
	for _, e := range batch {
		value, err := json.Marshal(e)
		if err != nil {
			return Permanent(fmt.Errorf("marshal entry %d: %w", e.Sequence, err))
		}
		records = append(records, &kgo.Record{
			Topic: k.topic,
			Key:   []byte(e.ID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "category", Value: []byte(e.Category)},
				{Key: "sequence", Value: []byte(strconv.FormatUint(e.Sequence, 10))},
			},
		})
	}
	if err := k.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaSink) Close() {
	k.client.Close()
}

// =============================================================================
// Webhook
// =============================================================================

// WebhookSink POSTs each batch as a JSON array.
type WebhookSink struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookSink(name, url string, headers map[string]string, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSink{name: name, url: url, headers: headers, client: client}
}

func (w *WebhookSink) Name() string { return w.name }

func (w *WebhookSink) Send(ctx context.Context, batch []models.Entry) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return Permanent(fmt.Errorf("marshal batch: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return Permanent(fmt.Errorf("webhook rejected batch with %d", resp.StatusCode))
	}
}

// =============================================================================
// Line-oriented writers (JSON lines, RFC 5424 syslog)
// =============================================================================

// Format selects how WriterSink renders entries.
type Format string

const (
	FormatJSONLines Format = "json"
	FormatSyslog    Format = "syslog"
)

// syslogFacility is "log audit" (13).
const syslogFacility = 13

// WriterSink writes one line per entry to w.
type WriterSink struct {
	name     string
	format   Format
	appName  string
	hostname string

	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(name string, w io.Writer, format Format) *WriterSink {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "-"
	}
	return &WriterSink{name: name, w: w, format: format, appName: "auditchain", hostname: host}
}

// NewSyslogSink dials a syslog receiver and writes RFC 5424 lines to it.
func NewSyslogSink(ctx context.Context, name, network, addr string) (*WriterSink, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	return NewWriterSink(name, conn, FormatSyslog), nil
}

func (s *WriterSink) Name() string { return s.name }

func (s *WriterSink) Send(ctx context.Context, batch []models.Entry) error {
	var buf bytes.Buffer
	for _, e := range batch {
		line, err := s.render(e)
		if err != nil {
			return Permanent(err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}

// Close closes the underlying writer when it is closable.
func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *WriterSink) render(e models.Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal entry %d: %w", e.Sequence, err)
	}
	if s.format != FormatSyslog {
		return payload, nil
	}
	header := fmt.Sprintf("<%d>1 %s %s %s - %s - ",
		syslogFacility*8+syslogSeverity(e.Severity),
		e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		s.hostname,
		s.appName,
		msgID(e.Category),
	)
	return append([]byte(header), payload...), nil
}

func syslogSeverity(sev models.Severity) int {
	switch sev {
	case models.SeverityCritical:
		return 2
	case models.SeverityError:
		return 3
	case models.SeverityWarning:
		return 4
	case models.SeverityDebug:
		return 7
	default:
		return 6
	}
}

// msgID maps a category to a syslog MSGID token (printable, no spaces).
func msgID(c models.Category) string {
	if c == "" {
		return "-"
	}
	out := []byte(c)
	for i, b := range out {
		if b <= 32 || b >= 127 {
			out[i] = '_'
		}
	}
	if len(out) > 32 {
		out = out[:32]
	}
	return string(out)
}
