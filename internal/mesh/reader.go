package mesh

import (
	"bytes"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"pidash/internal/constants"
)

type Snapshot struct {
	Status    string               `json:"status"` // ok | not_configured | offline
	Node      *Identity            `json:"node,omitempty"`
	Connected bool                 `json:"connected"`
	Telemetry *Telemetry           `json:"telemetry,omitempty"`
	Records   map[string]Record    `json:"records"`
	Activity  []string             `json:"activity"`
	Channels  map[string][]Message `json:"channels"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Reader builds dashboard snapshots from the bridge's append-only log. It
// never talks to the radio itself, so a stale or missing log degrades to an
// offline payload instead of an error.
type Reader struct {
	path string

	sf    singleflight.Group
	now   func() time.Time
	mu    sync.Mutex
	cache *cachedSnapshot
}

type cachedSnapshot struct {
	snap    Snapshot
	expires time.Time
}

func NewReader(path string) *Reader {
	return &Reader{
		path: path,
		now:  time.Now,
	}
}

// Snapshot returns the latest view of the mesh, rebuilding from the log at
// most once per cache window. Concurrent callers share a single rebuild.
func (r *Reader) Snapshot() Snapshot {
	if r.path == "" {
		return Snapshot{Status: "not_configured", Records: map[string]Record{}, Activity: []string{}, Channels: map[string][]Message{}}
	}

	r.mu.Lock()
	cached := r.cache
	r.mu.Unlock()
	if cached != nil && r.now().Before(cached.expires) {
		return cached.snap
	}

	v, _, _ := r.sf.Do("snapshot", func() (any, error) {
		snap := r.build()
		r.mu.Lock()
		r.cache = &cachedSnapshot{snap: snap, expires: r.now().Add(constants.MeshTTL)}
		r.mu.Unlock()
		return snap, nil
	})
	return v.(Snapshot)
}

func (r *Reader) build() Snapshot {
	snap := Snapshot{
		Status:    "ok",
		Records:   map[string]Record{},
		Activity:  []string{},
		Channels:  map[string][]Message{},
		UpdatedAt: r.now(),
	}

	lines, err := tailLines(r.path, constants.MeshTailLines)
	if err != nil {
		log.Printf("📡 Meshtastic log unreadable at %s: %v", r.path, err)
		snap.Status = "offline"
		return snap
	}

	// Newest to oldest: the first hit in each single-latest category is the
	// most recent one, so later (older) hits are ignored.
	sawDisconnect := false
	for i := len(lines) - 1; i >= 0; i-- {
		ev, ok := Classify(string(lines[i]))
		if !ok {
			continue
		}
		switch ev.Kind {
		case EventTelemetry:
			if snap.Telemetry == nil {
				snap.Telemetry = ev.Telemetry
				snap.Connected = !sawDisconnect
			}
		case EventRecord:
			if _, have := snap.Records[ev.Record.Category]; !have {
				snap.Records[ev.Record.Category] = *ev.Record
			}
			snap.addActivity(formatRecord(ev.Record))
		case EventMessage:
			msgs := snap.Channels[ev.Message.Channel]
			if len(msgs) < constants.MaxChannelMsgs {
				snap.Channels[ev.Message.Channel] = append(msgs, *ev.Message)
			}
			snap.addActivity(formatMessage(ev.Message))
		case EventIdentity:
			if snap.Node == nil {
				snap.Node = ev.Identity
			}
		case EventDisconnect:
			if snap.Telemetry == nil {
				sawDisconnect = true
			}
			snap.addActivity("Radio disconnected")
		}
	}

	// The scan accumulated newest-first; flip everything back to
	// chronological order for the dashboard.
	reverse(snap.Activity)
	for ch := range snap.Channels {
		reverse(snap.Channels[ch])
	}
	return snap
}

func (r *Reader) Configured() bool { return r.path != "" }

func (s *Snapshot) addActivity(line string) {
	if len(s.Activity) < constants.MaxActivity {
		s.Activity = append(s.Activity, line)
	}
}

func formatRecord(rec *Record) string {
	return "New " + rec.Category + " record: " + trimFloat(rec.Value) + " " + rec.Unit + " (" + rec.Node + ")"
}

func formatMessage(m *Message) string {
	who := m.From
	if m.Name != "" {
		who = m.Name
	}
	return "ch" + m.Channel + " " + who + ": " + m.Text
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// tailLines reads the last n lines of a file without loading the whole
// thing, walking backward one block at a time.
func tailLines(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf []byte
	offset := info.Size()
	block := make([]byte, constants.MeshTailBlock)
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		size := int64(len(block))
		if offset < size {
			size = offset
		}
		offset -= size
		if _, err := f.ReadAt(block[:size], offset); err != nil {
			return nil, err
		}
		buf = append(append([]byte{}, block[:size]...), buf...)
	}

	lines := bytes.Split(buf, []byte{'\n'})
	// Drop a trailing empty fragment from a final newline.
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
