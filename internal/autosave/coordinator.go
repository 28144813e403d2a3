package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/codedeck/backend/internal/files"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 2 * time.Second
	persistTimeout  = 10 * time.Second
)

var errMissingSaver = errors.New("autosave: saver is required")

// Saver persists file content. Implemented by the hierarchy store.
type Saver interface {
	SaveContent(ctx context.Context, nodeID, userID, content string) (*files.FileNode, error)
}

// Config describes one coordinator, owned by a single client connection.
type Config struct {
	Saver    Saver
	UserID   string
	Debounce time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
	// OnSaved runs after a successful persist so the caller can notify the
	// file's session members.
	OnSaved func(fileID string, version int64)
}

// Coordinator turns a stream of local edits into periodic persisted saves.
// Each edit restarts a debounce window; the window firing persists the buffer
// unless it matches the last persisted snapshot. Switching the active file
// cancels any pending window for the previous file, so buffered text from one
// file can never be written into another.
type Coordinator struct {
	saver    Saver
	userID   string
	debounce time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	onSaved  func(fileID string, version int64)

	mu         sync.Mutex
	activeFile string
	buffer     string
	dirty      bool
	timer      *time.Timer
	generation uint64
	lastSaved  map[string]string
	closed     bool
}

// NewCoordinator constructs a per-connection coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Saver == nil {
		return nil, errMissingSaver
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onSaved := cfg.OnSaved
	if onSaved == nil {
		onSaved = func(string, int64) {}
	}
	return &Coordinator{
		saver:     cfg.Saver,
		userID:    cfg.UserID,
		debounce:  debounce,
		clock:     clock,
		logger:    logger,
		onSaved:   onSaved,
		lastSaved: make(map[string]string),
	}, nil
}

// SetActiveFile switches the coordinator to a new file. Any pending debounce
// window for the previous file is cancelled, never flushed: a fast switch
// drops the buffered text rather than risk saving it under the wrong file.
// The baseline is the content loaded from the store at open time.
func (c *Coordinator) SetActiveFile(fileID, baseline string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.activeFile = fileID
	c.buffer = baseline
	c.dirty = false
	if fileID != "" {
		c.lastSaved[fileID] = baseline
	}
}

// RecordEdit buffers a local content change and restarts the debounce window.
// Edits for anything but the active file are ignored.
func (c *Coordinator) RecordEdit(fileID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || fileID == "" || fileID != c.activeFile {
		return
	}
	c.buffer = content
	c.dirty = true
	c.cancelLocked()
	c.generation++
	generation := c.generation
	c.timer = time.AfterFunc(c.debounce, func() {
		c.fire(generation)
	})
}

// Flush persists the active buffer immediately, for explicit saves. The
// pending debounce window, if any, is cancelled first.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.activeFile == "" {
		c.mu.Unlock()
		return
	}
	c.cancelLocked()
	fileID, content := c.activeFile, c.buffer
	c.dirty = false
	c.mu.Unlock()

	c.persist(ctx, fileID, content)
}

// Close cancels any pending window. Further edits are ignored.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.closed = true
	c.activeFile = ""
}

func (c *Coordinator) fire(generation uint64) {
	c.mu.Lock()
	// A newer edit, a file switch, or Close invalidates this window.
	if c.closed || generation != c.generation || !c.dirty || c.activeFile == "" {
		c.mu.Unlock()
		return
	}
	fileID, content := c.activeFile, c.buffer
	c.dirty = false
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	c.persist(ctx, fileID, content)
}

func (c *Coordinator) persist(ctx context.Context, fileID, content string) {
	c.mu.Lock()
	unchanged := c.lastSaved[fileID] == content
	c.mu.Unlock()
	if unchanged {
		return
	}

	node, err := c.saver.SaveContent(ctx, fileID, c.userID, content)
	if err != nil {
		// Not retried in the background: the next debounce cycle, driven by
		// the user's next keystroke, is the retry path.
		c.mu.Lock()
		if c.activeFile == fileID {
			c.dirty = true
		}
		c.mu.Unlock()
		c.logger.Warn("autosave persist failed",
			zap.String("file_id", fileID),
			zap.String("user_id", c.userID),
			zap.Error(err))
		return
	}

	c.mu.Lock()
	c.lastSaved[fileID] = content
	c.mu.Unlock()
	c.onSaved(fileID, node.Version)
}

func (c *Coordinator) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}
