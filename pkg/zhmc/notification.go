package zhmc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Notification kinds delivered on the object-notification topic.
const (
	NotificationPropertyChange  = "property-change"
	NotificationStatusChange    = "status-change"
	NotificationInventoryChange = "inventory-change"
)

// Inventory change actions.
const (
	InventoryActionAdd    = "add"
	InventoryActionRemove = "remove"
)

// receiveWakeup bounds each blocking wait on the hand-off queue. Expiry
// without incoming data is a liveness check, not an error: the close flag
// is re-checked at each wakeup.
const receiveWakeup = 500 * time.Millisecond

const notificationQueueSize = 128

// notificationSchemaJSON is the wire contract of one notification frame.
// Frames that fail validation are logged and dropped by the consumer; one
// bad message never breaks delivery of subsequent ones.
const notificationSchemaJSON = `{
  "type": "object",
  "required": ["notification-type", "class"],
  "properties": {
    "notification-type": {
      "type": "string",
      "enum": ["property-change", "status-change", "inventory-change"]
    },
    "class": {"type": "string"},
    "object-uri": {"type": "string"},
    "element-uri": {"type": "string"},
    "action": {"type": "string", "enum": ["add", "remove"]},
    "time-stamp": {"type": "integer"},
    "property-changes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["property-name"],
        "properties": {
          "property-name": {"type": "string"}
        }
      }
    },
    "status-change": {"type": "object"}
  }
}`

var notificationSchema = jsonschema.MustCompileString("notification.json", notificationSchemaJSON)

// PropertyChange is one old→new record of a property-change notification.
// Records are ordered oldest to newest.
type PropertyChange struct {
	PropertyName string
	OldValue     any
	NewValue     any
}

// Notification is one parsed message from the object-notification topic.
type Notification struct {
	Type       string
	Class      string
	ObjectURI  string // object-uri, or element-uri for element resources
	ParentURI  string // parent scoping URI carried by inventory changes
	Action     string // inventory-change only
	Timestamp  time.Time
	Changes    []PropertyChange // property-change only
	StatusInfo map[string]any   // status-change only
}

// FoldedChanges collapses the ordered change records to the final value per
// property name: only the last reported value per key is kept.
func (n *Notification) FoldedChanges() map[string]any {
	out := make(map[string]any, len(n.Changes))
	for _, c := range n.Changes {
		out[c.PropertyName] = c.NewValue
	}
	return out
}

// NotificationReceiver delivers notifications from one topic subscription.
// A dedicated reader goroutine drains the websocket connection into a
// bounded queue; Receive hands messages to the caller one at a time.
//
// The receive loop never reconnects by itself: a lost connection surfaces
// as ErrConnectionLost from Receive, and re-subscribing is the caller's
// responsibility.
type NotificationReceiver struct {
	topic  string
	conn   *websocket.Conn
	logger *zerolog.Logger
	queue  chan *Notification

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	readErr error
}

// NewNotificationReceiver opens a push channel for the given topic. The
// session is logged on first if needed.
func (s *Session) NewNotificationReceiver(ctx context.Context, topic string) (*NotificationReceiver, error) {
	if s.Token() == "" {
		if err := s.Logon(ctx); err != nil {
			return nil, err
		}
	}
	if topic == "" {
		return nil, ErrSubscription.Msg("no notification topic")
	}

	wsURL := toWebsocketURL(s.baseURL) + "/api/notifications/" + topic
	header := map[string][]string{"X-API-Session": {s.Token()}}
	conn, _, err := s.wsDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, ErrSubscription.MsgErr(
			fmt.Sprintf("cannot subscribe to topic %q", topic), err)
	}

	nr := &NotificationReceiver{
		topic:  topic,
		conn:   conn,
		logger: &s.logger,
		queue:  make(chan *Notification, notificationQueueSize),
		closed: make(chan struct{}),
	}
	go nr.readLoop()
	return nr, nil
}

func toWebsocketURL(baseURL string) string {
	switch {
	case len(baseURL) >= 8 && baseURL[:8] == "https://":
		return "wss://" + baseURL[8:]
	case len(baseURL) >= 7 && baseURL[:7] == "http://":
		return "ws://" + baseURL[7:]
	}
	return baseURL
}

// readLoop drains the connection into the queue. Malformed messages are
// logged and dropped; a read error ends the loop and is surfaced to
// Receive as ErrConnectionLost.
func (nr *NotificationReceiver) readLoop() {
	defer close(nr.queue)
	for {
		_, data, err := nr.conn.ReadMessage()
		if err != nil {
			select {
			case <-nr.closed:
				nr.setReadErr(ErrReceiverClosed)
			default:
				nr.setReadErr(ErrConnectionLost.Err(err))
			}
			return
		}
		n, err := parseNotification(data)
		if err != nil {
			nr.logger.Warn().Err(err).Str("topic", nr.topic).
				Msg("dropping malformed notification")
			continue
		}
		select {
		case nr.queue <- n:
		case <-nr.closed:
			nr.setReadErr(ErrReceiverClosed)
			return
		}
	}
}

func (nr *NotificationReceiver) setReadErr(err error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	if nr.readErr == nil {
		nr.readErr = err
	}
}

func (nr *NotificationReceiver) getReadErr() error {
	nr.mu.Lock()
	defer nr.mu.Unlock()
	if nr.readErr == nil {
		return ErrConnectionLost
	}
	return nr.readErr
}

// Receive blocks until the next notification arrives, the receiver is
// closed, or the context is canceled. A lost connection yields
// ErrConnectionLost; a closed receiver yields ErrReceiverClosed.
func (nr *NotificationReceiver) Receive(ctx context.Context) (*Notification, error) {
	for {
		select {
		case n, ok := <-nr.queue:
			if !ok {
				return nil, nr.getReadErr()
			}
			return n, nil
		case <-ctx.Done():
			return nil, ErrReceiverClosed.Err(ctx.Err())
		case <-time.After(receiveWakeup):
			// liveness wakeup: re-check the close flag
			select {
			case <-nr.closed:
				return nil, ErrReceiverClosed
			default:
			}
		}
	}
}

// Close terminates the subscription. A blocked Receive returns promptly.
func (nr *NotificationReceiver) Close() error {
	var err error
	nr.closeOnce.Do(func() {
		close(nr.closed)
		err = nr.conn.Close()
	})
	return err
}

// parseNotification validates one frame against the notification schema
// and decodes it.
func parseNotification(data []byte) (*Notification, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, ErrNotificationParse.MsgErr("notification is not valid JSON", err)
	}
	if err := notificationSchema.Validate(decoded); err != nil {
		return nil, ErrNotificationParse.MsgErr("notification fails schema validation", err)
	}

	parsed := gjson.ParseBytes(data)
	n := &Notification{
		Type:      parsed.Get("notification-type").String(),
		Class:     parsed.Get("class").String(),
		ObjectURI: parsed.Get("object-uri").String(),
		ParentURI: parsed.Get("parent-uri").String(),
		Action:    parsed.Get("action").String(),
		Timestamp: notificationTime(parsed.Get("time-stamp")),
	}
	if n.ObjectURI == "" {
		n.ObjectURI = parsed.Get("element-uri").String()
	}

	if changes := parsed.Get("property-changes"); changes.IsArray() {
		changes.ForEach(func(_, c gjson.Result) bool {
			n.Changes = append(n.Changes, PropertyChange{
				PropertyName: c.Get("property-name").String(),
				OldValue:     c.Get("old-value").Value(),
				NewValue:     c.Get("new-value").Value(),
			})
			return true
		})
	}
	if status := parsed.Get("status-change"); status.IsObject() {
		n.StatusInfo = map[string]any{}
		status.ForEach(func(k, v gjson.Result) bool {
			n.StatusInfo[k.String()] = v.Value()
			return true
		})
	}
	return n, nil
}

// notificationTime converts the millisecond epoch timestamp of a frame.
// Some HMC versions emit out-of-range timestamps; those fall back to the
// local wall clock. This compensates a known defect of that event source
// and is not a general timestamp-handling rule.
func notificationTime(ts gjson.Result) time.Time {
	if !ts.Exists() {
		return time.Now()
	}
	ms := ts.Int()
	t := time.UnixMilli(ms)
	if ms <= 0 || t.After(time.Now().Add(time.Hour)) {
		return time.Now()
	}
	return t
}
