package control

// Event categories and levels as they appear over the API.
const (
	CategoryDevice  = "DEVICE"
	CategoryManual  = "MANUAL"
	CategorySystem  = "SYSTEM"
	CategorySerial  = "SERIAL"
	CategoryError   = "ERROR"
	CategoryWarning = "WARNING"

	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// EventLogCapacity is how many events the in-memory log retains before
// evicting the oldest.
const EventLogCapacity = 100

// Event is one timestamped log entry shown on the dashboard.
type Event struct {
	Timestamp string `json:"timestamp"`
	Category  string `json:"type"`
	Message   string `json:"message"`
	Level     string `json:"level"`
}

// Log is a fixed-capacity ring of events. Oldest entries are evicted
// when full. Not safe for concurrent use; the Controller's lock covers
// it.
type Log struct {
	buf   []Event
	head  int // index of the oldest entry
	count int
}

// NewLog creates an empty log holding at most capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = EventLogCapacity
	}
	return &Log{buf: make([]Event, capacity)}
}

// Append adds an event, evicting the oldest if the log is full.
func (l *Log) Append(e Event) {
	if l.count < len(l.buf) {
		l.buf[(l.head+l.count)%len(l.buf)] = e
		l.count++
		return
	}
	l.buf[l.head] = e
	l.head = (l.head + 1) % len(l.buf)
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	return l.count
}

// Last returns up to n events, newest last. n <= 0 returns everything
// retained.
func (l *Log) Last(n int) []Event {
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Event, n)
	start := l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.buf[(l.head+start+i)%len(l.buf)]
	}
	return out
}
