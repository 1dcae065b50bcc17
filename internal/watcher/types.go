package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"treemirror/internal/logging"
	"treemirror/internal/metrics"
)

type Kind string

const (
	Created  Kind = "created"
	Deleted  Kind = "deleted"
	Modified Kind = "modified"
	Renamed  Kind = "renamed"
	Resync   Kind = "resync"
)

// Event is one change below the watched root. Path is absolute; NewPath is
// set for Renamed only.
type Event struct {
	Kind      Kind
	Path      string
	NewPath   string
	Timestamp time.Time
}

// Options controls watcher behavior.
type Options struct {
	Logger       *logging.Logger
	Metrics      *metrics.Registry
	QueueSize    int
	MaxWatches   int
	RenameWindow time.Duration
	// Skip reports directories that must not be watched. Defaults to hidden directories.
	Skip         func(path string) bool
	ErrorHandler func(error)
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the fsnotify-backed recursive watcher for one root directory.
type Watcher struct {
	root         string
	watcher      *fsnotify.Watcher
	mutex        sync.Mutex
	watched      map[string]struct{}
	maxWatches   int
	skip         func(string) bool
	renameWindow time.Duration

	raw    chan fsnotify.Event
	errors chan error
	resync chan struct{}
	out    chan Event
	done   chan struct{}
	exited chan struct{}
	closed bool

	// pending, pendingTimer and retired belong to the run goroutine.
	pending      *Event
	pendingTimer *time.Timer
	retired      map[string]time.Time

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int
	errorHandler    func(error)

	logger          *logging.Logger
	metrics         *metrics.Registry
	eventsDelivered atomic.Uint64
	errorCount      atomic.Uint64
}
