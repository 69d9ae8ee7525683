package thumbcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"time"

	"media-index/internal/logging"
	"media-index/internal/metrics"
	"media-index/internal/workers"

	"github.com/disintegration/imaging"
)

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("thumbnail cache closed")

// ErrCancelled is returned to Fetch callers whose pending load was
// cancelled before delivery.
var ErrCancelled = errors.New("thumbnail load cancelled")

// ErrNoThumbnail signals a load request for media with no on-disk
// thumbnail (audio, or generation failed during the scan).
var ErrNoThumbnail = errors.New("no thumbnail available")

// Event is a delivery notification for an asynchronous load. The
// image itself is not carried; consumers read it back with GetCached.
type Event struct {
	MediaID int64  `json:"mediaId"`
	Size    int    `json:"size"`
	Err     string `json:"err,omitempty"`
}

type cacheKey struct {
	id   int64
	size int
}

type task struct {
	key  cacheKey
	path string
}

type loadResult struct {
	img *image.NRGBA
	err error
}

// Cache is a bounded LRU of display-ready thumbnails keyed by
// (media id, size). Lookups are non-blocking; loads run on a bounded
// worker pool with per-key coalescing and best-effort cancellation.
//
// All shared state (LRU, pending set, queue, waiters) lives behind
// one mutex. Workers never touch it directly: they decode and then
// hand the result to deliver, the single coordination point.
type Cache struct {
	capacity int

	mu      sync.Mutex
	cond    *sync.Cond
	order   *list.List // front = most recently used
	index   map[cacheKey]*list.Element
	pending map[cacheKey]struct{}
	waiters map[cacheKey][]chan loadResult
	queue   []task
	closed  bool

	events chan Event
	wg     sync.WaitGroup

	placeholderSize  int
	placeholder      *image.NRGBA
	audioPlaceholder *image.NRGBA
}

type entry struct {
	key cacheKey
	img *image.NRGBA
}

// New returns a cache holding at most capacity entries, with a decode
// pool sized for the available CPUs.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[cacheKey]*list.Element),
		pending:  make(map[cacheKey]struct{}),
		waiters:  make(map[cacheKey][]chan loadResult),
		events:   make(chan Event, 256),
	}
	c.cond = sync.NewCond(&c.mu)

	n := workers.ForCPU(8)
	logging.Info("Thumbnail cache: capacity %d entries, %d workers", capacity, n)
	for i := 0; i < n; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Events returns the async delivery stream. Events are dropped when
// the consumer falls behind; the cache itself stays authoritative.
func (c *Cache) Events() <-chan Event {
	return c.events
}

// GetCached returns the cached thumbnail for (id, size) if present,
// marking it most recently used. On a miss it returns a placeholder
// sized for size and hit=false.
func (c *Cache) GetCached(id int64, size int) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[cacheKey{id, size}]; ok {
		c.order.MoveToFront(el)
		metrics.CacheHits.Inc()
		return el.Value.(*entry).img, true
	}
	metrics.CacheMisses.Inc()
	return c.placeholderLocked(size, false), false
}

// Placeholder returns the generic placeholder for size.
func (c *Cache) Placeholder(size int) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placeholderLocked(size, false)
}

// AudioPlaceholder returns the placeholder used for media that never
// has a thumbnail.
func (c *Cache) AudioPlaceholder(size int) image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.placeholderLocked(size, true)
}

// placeholderLocked synthesizes placeholders lazily and regenerates
// them only when the requested size changes. Cheap, but not free, so
// the last pair is kept.
func (c *Cache) placeholderLocked(size int, audio bool) *image.NRGBA {
	if size != c.placeholderSize || c.placeholder == nil {
		c.placeholder = flatTile(size, color.NRGBA{R: 0x2b, G: 0x2b, B: 0x30, A: 0xff})
		c.audioPlaceholder = flatTile(size, color.NRGBA{R: 0x26, G: 0x32, B: 0x3a, A: 0xff})
		c.placeholderSize = size
	}
	if audio {
		return c.audioPlaceholder
	}
	return c.placeholder
}

func flatTile(size int, fill color.NRGBA) *image.NRGBA {
	if size < 1 {
		size = 1
	}
	tile := imaging.New(size, size, fill)
	// Thin border so adjacent placeholder tiles read as cells.
	edge := color.NRGBA{R: 0x45, G: 0x45, B: 0x4c, A: 0xff}
	for x := 0; x < size; x++ {
		tile.SetNRGBA(x, 0, edge)
		tile.SetNRGBA(x, size-1, edge)
	}
	for y := 0; y < size; y++ {
		tile.SetNRGBA(0, y, edge)
		tile.SetNRGBA(size-1, y, edge)
	}
	return tile
}

// RequestLoad asks for (id, size) to be loaded from the on-disk
// thumbnail at path. Already cached: an event is delivered
// immediately. Already pending: no-op (coalesced). Empty path: an
// error event is delivered. Otherwise the decode is queued on the
// worker pool. Never blocks.
func (c *Cache) RequestLoad(id int64, path string, size int) {
	key := cacheKey{id, size}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if _, ok := c.index[key]; ok {
		c.emitLocked(Event{MediaID: id, Size: size})
		return
	}
	if _, ok := c.pending[key]; ok {
		return
	}
	if path == "" {
		c.emitLocked(Event{MediaID: id, Size: size, Err: ErrNoThumbnail.Error()})
		c.failWaitersLocked(key, ErrNoThumbnail)
		return
	}

	c.pending[key] = struct{}{}
	metrics.CachePending.Set(float64(len(c.pending)))
	c.queue = append(c.queue, task{key: key, path: path})
	c.cond.Signal()
}

// Fetch blocks until the thumbnail for (id, size) is available, the
// load fails, or ctx is done. It rides the same pending set as
// RequestLoad, so concurrent fetches and async requests for one key
// share a single decode.
func (c *Cache) Fetch(ctx context.Context, id int64, path string, size int) (image.Image, error) {
	key := cacheKey{id, size}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if el, ok := c.index[key]; ok {
		c.order.MoveToFront(el)
		metrics.CacheHits.Inc()
		img := el.Value.(*entry).img
		c.mu.Unlock()
		return img, nil
	}
	if path == "" {
		c.mu.Unlock()
		return nil, ErrNoThumbnail
	}

	ch := make(chan loadResult, 1)
	c.waiters[key] = append(c.waiters[key], ch)
	if _, already := c.pending[key]; !already {
		c.pending[key] = struct{}{}
		metrics.CachePending.Set(float64(len(c.pending)))
		c.queue = append(c.queue, task{key: key, path: path})
		c.cond.Signal()
	}
	c.mu.Unlock()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.img, nil
	case <-ctx.Done():
		c.dropWaiter(key, ch)
		return nil, ctx.Err()
	}
}

func (c *Cache) dropWaiter(key cacheKey, ch chan loadResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws := c.waiters[key]
	for i, w := range ws {
		if w == ch {
			c.waiters[key] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(c.waiters[key]) == 0 {
		delete(c.waiters, key)
	}
}

// Cancel drops every pending request for one media id, across sizes.
// Queued-but-unstarted work for it is purged; an in-flight decode
// finishes and is discarded on delivery.
func (c *Cache) Cancel(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.pending {
		if key.id == id {
			delete(c.pending, key)
			c.failWaitersLocked(key, ErrCancelled)
		}
	}
	c.purgeQueueLocked(func(t task) bool { return t.key.id == id })
	metrics.CachePending.Set(float64(len(c.pending)))
}

// Invalidate drops cached tiles and pending work for one media id,
// across sizes. Used when the row's content changes or it is deleted.
func (c *Cache) Invalidate(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, el := range c.index {
		if key.id == id {
			c.order.Remove(el)
			delete(c.index, key)
		}
	}
	for key := range c.pending {
		if key.id == id {
			delete(c.pending, key)
			c.failWaitersLocked(key, ErrCancelled)
		}
	}
	c.purgeQueueLocked(func(t task) bool { return t.key.id == id })
	metrics.CachePending.Set(float64(len(c.pending)))
}

// CancelAll drops every pending request. Used when a view tears down
// or scrolls too fast for in-flight work to still matter.
func (c *Cache) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.pending {
		c.failWaitersLocked(key, ErrCancelled)
	}
	c.pending = make(map[cacheKey]struct{})
	c.queue = c.queue[:0]
	metrics.CachePending.Set(0)
}

// Clear drops all cached entries. Pending loads are unaffected. Used
// on a global display-size change, when every cached entry keyed by
// the old size becomes unreachable dead weight.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[cacheKey]*list.Element)
}

// Close cancels pending work, stops the workers, and waits for
// in-flight decodes to finish so their buffers are not leaked
// mid-use. The events channel is closed after the drain.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for key := range c.pending {
		c.failWaitersLocked(key, ErrClosed)
	}
	c.pending = make(map[cacheKey]struct{})
	c.queue = nil
	metrics.CachePending.Set(0)
	c.cond.Broadcast()
	c.mu.Unlock()

	c.wg.Wait()
	close(c.events)
}

func (c *Cache) purgeQueueLocked(drop func(task) bool) {
	kept := c.queue[:0]
	for _, t := range c.queue {
		if !drop(t) {
			kept = append(kept, t)
		}
	}
	c.queue = kept
}

// emitLocked sends an event without blocking the coordination point.
func (c *Cache) emitLocked(ev Event) {
	select {
	case c.events <- ev:
	default:
		logging.Debug("thumbnail event dropped: id=%d size=%d", ev.MediaID, ev.Size)
	}
}

func (c *Cache) failWaitersLocked(key cacheKey, err error) {
	for _, ch := range c.waiters[key] {
		ch <- loadResult{err: err}
	}
	delete(c.waiters, key)
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		t := c.queue[0]
		c.queue = c.queue[1:]
		if _, still := c.pending[t.key]; !still {
			// Cancelled while queued.
			c.mu.Unlock()
			continue
		}
		c.mu.Unlock()

		start := time.Now()
		img, err := renderTile(t.path, t.key.size)
		metrics.CacheLoadDuration.Observe(time.Since(start).Seconds())

		c.deliver(t.key, loadResult{img: img, err: err})
	}
}

// deliver is the only place worker results enter shared state. A key
// cancelled while its decode was in flight is dropped silently.
func (c *Cache) deliver(key cacheKey, res loadResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, still := c.pending[key]; !still {
		return
	}
	delete(c.pending, key)
	metrics.CachePending.Set(float64(len(c.pending)))

	if res.err != nil {
		c.emitLocked(Event{MediaID: key.id, Size: key.size, Err: res.err.Error()})
		c.failWaitersLocked(key, res.err)
		return
	}

	c.insertLocked(key, res.img)
	c.emitLocked(Event{MediaID: key.id, Size: key.size})
	for _, ch := range c.waiters[key] {
		ch <- loadResult{img: res.img}
	}
	delete(c.waiters, key)
}

func (c *Cache) insertLocked(key cacheKey, img *image.NRGBA) {
	if el, ok := c.index[key]; ok {
		el.Value.(*entry).img = img
		c.order.MoveToFront(el)
		return
	}
	c.index[key] = c.order.PushFront(&entry{key: key, img: img})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*entry).key)
		metrics.CacheEvictions.Inc()
	}
}

// renderTile decodes an on-disk thumbnail and produces the
// display-ready tile: scaled to fit size preserving aspect ratio,
// centered on an opaque size x size canvas.
func renderTile(path string, size int) (*image.NRGBA, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid tile size %d", size)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("thumbnail missing: %w", err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail %s: %w", path, err)
	}

	fitted := imaging.Fit(img, size, size, imaging.Lanczos)
	canvas := imaging.New(size, size, color.NRGBA{R: 0x1e, G: 0x1e, B: 0x22, A: 0xff})
	return imaging.OverlayCenter(canvas, fitted, 1.0), nil
}
