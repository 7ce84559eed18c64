package publisher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/szibis/mqtt-publisher/internal/config"
	"github.com/szibis/mqtt-publisher/internal/logging"
	"github.com/szibis/mqtt-publisher/internal/record"
	"github.com/szibis/mqtt-publisher/internal/transport"
)

// fakeClient is an in-memory broker session.
type fakeClient struct {
	mu           sync.Mutex
	published    [][]byte
	topics       []string
	publishErr   error
	reconnectErr error
	reconnects   int
	disconnects  int
	closed       bool
}

func (c *fakeClient) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnects++
	return c.reconnectErr
}

func (c *fakeClient) Publish(topic string, qos byte, retain bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	// The payload aliases the send buffer, which is reset after publish.
	c.published = append(c.published, append([]byte(nil), payload...))
	c.topics = append(c.topics, topic)
	return nil
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeClient) setPublishErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// fakeDialer counts dial attempts and hands out one fakeClient.
type fakeDialer struct {
	mu      sync.Mutex
	client  *fakeClient
	dialErr error
	dials   int
}

func (d *fakeDialer) dial(cfg transport.Config) (transport.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

func testNode(bufferSize int) config.Node {
	return config.Node{
		Name:       "test",
		Driver:     "mqtt",
		Host:       "broker.local",
		Port:       1883,
		ClientID:   "test-client",
		Topic:      "collectd",
		QoS:        1,
		BufferSize: bufferSize,
	}
}

func testEndpoint(t *testing.T, bufferSize int) (*Endpoint, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{client: &fakeClient{}}
	e, err := New(testNode(bufferSize), WithDialer(d.dial))
	if err != nil {
		t.Fatal(err)
	}
	return e, d
}

func testRecord(plugin string) *record.Record {
	return &record.Record{
		Host:     "host.example.com",
		Plugin:   plugin,
		Type:     "gauge",
		Time:     time.Unix(1700000000, 0),
		Interval: 10 * time.Second,
		DSNames:  []string{"value"},
		DSTypes:  []record.DSType{record.Gauge},
		Values:   []float64{1},
	}
}

func decodeBatch(t *testing.T, payload []byte) []map[string]interface{} {
	t.Helper()
	var batch []map[string]interface{}
	if err := json.Unmarshal(payload, &batch); err != nil {
		t.Fatalf("published payload is not a valid batch: %v\n%s", err, payload)
	}
	return batch
}

func TestWritesBatchUntilFlush(t *testing.T) {
	e, d := testEndpoint(t, 1024)

	for _, plugin := range []string{"cpu", "memory", "disk"} {
		if err := e.Write(testRecord(plugin)); err != nil {
			t.Fatalf("write %s: %v", plugin, err)
		}
	}
	if got := d.client.publishCount(); got != 0 {
		t.Fatalf("%d publishes before flush, want 0", got)
	}

	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}
	if got := d.client.publishCount(); got != 1 {
		t.Fatalf("%d publishes, want exactly 1", got)
	}

	batch := decodeBatch(t, d.client.published[0])
	if len(batch) != 3 {
		t.Fatalf("batch has %d records, want 3", len(batch))
	}
	if d.client.topics[0] != "collectd" {
		t.Errorf("published on topic %q", d.client.topics[0])
	}
}

func TestFlushBeforeTimeoutIsNoop(t *testing.T) {
	e, d := testEndpoint(t, 1024)

	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	fill := e.buf.Fill()

	if err := e.Flush(time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := d.client.publishCount(); got != 0 {
		t.Errorf("%d publishes, want 0", got)
	}
	if e.buf.Fill() != fill {
		t.Errorf("buffer changed: fill %d -> %d", fill, e.buf.Fill())
	}
	if !e.Connected() {
		t.Error("connection state changed by a no-op flush")
	}
}

func TestFlushEmptyBufferRestampsClock(t *testing.T) {
	e, d := testEndpoint(t, 1024)

	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}
	before := e.buf.InitTime()
	time.Sleep(5 * time.Millisecond)

	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}
	if got := d.client.publishCount(); got != 0 {
		t.Errorf("%d publishes on empty buffer, want 0", got)
	}
	if !e.buf.InitTime().After(before) {
		t.Error("empty flush should restart the staleness clock")
	}
}

func TestOverflowForcesFlushAndRetriesOnce(t *testing.T) {
	// Room for one encoded record plus framing, not two.
	e, d := testEndpoint(t, 256)

	if err := e.Write(testRecord("first")); err != nil {
		t.Fatal(err)
	}
	if err := e.Write(testRecord("second")); err != nil {
		t.Fatal(err)
	}

	if got := d.client.publishCount(); got != 1 {
		t.Fatalf("%d publishes, want exactly 1 forced by overflow", got)
	}
	batch := decodeBatch(t, d.client.published[0])
	if len(batch) != 1 || batch[0]["plugin"] != "first" {
		t.Fatalf("forced flush published %v", batch)
	}

	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}
	batch = decodeBatch(t, d.client.published[1])
	if len(batch) != 1 || batch[0]["plugin"] != "second" {
		t.Fatalf("retried record not buffered: %v", batch)
	}
}

func TestRecordLargerThanBufferFails(t *testing.T) {
	e, d := testEndpoint(t, 1024)

	rec := testRecord("huge")
	rec.TypeInstance = strings.Repeat("x", 1100)
	err := e.Write(rec)
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Fatalf("expected ErrRecordTooLarge, got %v", err)
	}
	if got := d.client.publishCount(); got != 0 {
		t.Errorf("%d publishes, want 0", got)
	}
	if !e.buf.EffectivelyEmpty(e.framer) {
		t.Error("buffer should be empty after a failed oversized write")
	}

	// The buffer stays usable.
	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatalf("write after overflow failure: %v", err)
	}
}

func TestUnreachableBrokerRetriesOnNextWrite(t *testing.T) {
	d := &fakeDialer{client: &fakeClient{}, dialErr: fmt.Errorf("connection refused")}
	e, err := New(testNode(1024), WithDialer(d.dial))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Write(testRecord("cpu")); !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if !e.buf.EffectivelyEmpty(e.framer) {
		t.Error("buffer must stay unpopulated when init fails")
	}

	if err := e.Write(testRecord("cpu")); !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect on retry, got %v", err)
	}
	if d.dials != 2 {
		t.Errorf("%d dials, want one per write attempt", d.dials)
	}

	// Broker comes back.
	d.mu.Lock()
	d.dialErr = nil
	d.mu.Unlock()
	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}
	batch := decodeBatch(t, d.client.published[0])
	if len(batch) != 1 {
		t.Errorf("batch has %d records, want 1 (no duplicates)", len(batch))
	}
}

func TestPublishFailureMarksDisconnectedAndReconnectsOnce(t *testing.T) {
	e, d := testEndpoint(t, 1024)
	d.client.setPublishErr(fmt.Errorf("broken pipe"))

	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(0); !errors.Is(err, ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if e.Connected() {
		t.Error("connection must be marked down after a publish failure")
	}
	if d.client.disconnects != 1 {
		t.Errorf("%d disconnects, want 1 best-effort disconnect", d.client.disconnects)
	}
	if !e.buf.EffectivelyEmpty(e.framer) {
		t.Error("failed batch must be dropped, not requeued")
	}

	d.client.setPublishErr(nil)
	if err := e.Write(testRecord("mem")); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}
	if d.client.reconnects != 1 {
		t.Errorf("%d reconnects, want exactly 1", d.client.reconnects)
	}
	if d.dials != 1 {
		t.Errorf("%d dials, want 1 (reconnect must reuse the handle)", d.dials)
	}
	if !e.Connected() {
		t.Error("connection should be up after successful reconnect")
	}
}

func TestRepeatedPublishFailuresLogOnce(t *testing.T) {
	var logBuf bytes.Buffer
	logging.SetOutput(&logBuf)
	defer logging.SetOutput(io.Discard)

	e, d := testEndpoint(t, 1024)
	d.client.setPublishErr(fmt.Errorf("broken pipe"))
	d.client.reconnectErr = fmt.Errorf("still down")

	for i := 0; i < 5; i++ {
		_ = e.Write(testRecord("cpu"))
		_ = e.Flush(0)
	}

	errorLines := 0
	for _, line := range strings.Split(logBuf.String(), "\n") {
		if strings.Contains(line, `"ERROR"`) {
			errorLines++
		}
	}
	if errorLines != 1 {
		t.Errorf("%d error lines for repeated failures, want 1\n%s", errorLines, logBuf.String())
	}

	d.client.mu.Lock()
	d.client.publishErr = nil
	d.client.reconnectErr = nil
	d.client.mu.Unlock()

	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}

	recoveryLines := 0
	for _, line := range strings.Split(logBuf.String(), "\n") {
		if strings.Contains(line, "reconnected") {
			recoveryLines++
		}
	}
	if recoveryLines != 1 {
		t.Errorf("%d recovery lines, want exactly 1\n%s", recoveryLines, logBuf.String())
	}
}

func TestCloseFlushesPendingBatch(t *testing.T) {
	e, d := testEndpoint(t, 1024)

	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	e.Close()

	if got := d.client.publishCount(); got != 1 {
		t.Errorf("%d publishes, want 1 final flush", got)
	}
	if !d.client.closed {
		t.Error("transport handle not released")
	}
}

func TestCloseFlushesEvenWhenPublishFails(t *testing.T) {
	e, d := testEndpoint(t, 1024)

	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	d.client.setPublishErr(fmt.Errorf("broker gone"))
	e.Close()

	if !d.client.closed {
		t.Error("handle must be released regardless of the final flush outcome")
	}
}

func TestCloseBeforeFirstUseIsSafe(t *testing.T) {
	e, d := testEndpoint(t, 1024)
	e.Close()

	if d.dials != 0 {
		t.Errorf("%d dials on close of an unused endpoint, want 0", d.dials)
	}
}

func TestCompressedPayloadRoundTrips(t *testing.T) {
	node := testNode(1024)
	node.Compression = "gzip"
	d := &fakeDialer{client: &fakeClient{}}
	e, err := New(node, WithDialer(d.dial))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.Write(testRecord("cpu")); err != nil {
		t.Fatal(err)
	}
	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}

	r, err := gzip.NewReader(bytes.NewReader(d.client.published[0]))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	batch := decodeBatch(t, raw)
	if len(batch) != 1 || batch[0]["plugin"] != "cpu" {
		t.Fatalf("decompressed batch = %v", batch)
	}
}

func TestConcurrentWritesSerialize(t *testing.T) {
	e, d := testEndpoint(t, config.MaxBufferSize)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := e.Write(testRecord(fmt.Sprintf("plugin-%d-%d", id, j))); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if err := e.Flush(0); err != nil {
		t.Fatal(err)
	}

	total := 0
	for _, payload := range d.client.published {
		total += len(decodeBatch(t, payload))
	}
	if total != 200 {
		t.Errorf("published %d records, want 200", total)
	}
}
