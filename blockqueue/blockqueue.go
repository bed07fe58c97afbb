package blockqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chainq/block"
	"chainq/exception"
	"chainq/logx"
	"chainq/monitoring"
	"chainq/store"
)

// Queue is a durable, ordered, deduplicating buffer for blocks received from
// peers, consumed by the import pipeline in ascending block-number order.
//
// Open loads persisted state in the background; every operation gates on that
// load before touching queue state. All mutations update the in-memory block
// table, hash set and ordered index together and issue exactly one durable
// commit. The commit runs before the in-memory update, so a failed commit
// leaves the queue unchanged.
//
// Safe for concurrent use by multiple producers and consumers.
type Queue struct {
	cfg    store.StoreConfig
	tuning *store.TuningConfig

	readyOnce sync.Once
	readyCh   chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond // signalled when a block becomes available
	st     store.QueueStore
	blocks map[uint64]*block.Block
	hashes map[block.Hash]struct{}
	index  []uint64 // ascending block numbers, mirrors blocks' key set

	opened  bool
	closed  bool
	initErr error
}

// New creates a queue against the given store configuration. The backing
// store is not touched until Open.
func New(cfg store.StoreConfig, tuning *store.TuningConfig) *Queue {
	monitoring.InitMetrics()
	q := &Queue{
		cfg:     cfg,
		tuning:  tuning,
		readyCh: make(chan struct{}),
		blocks:  make(map[uint64]*block.Block),
		hashes:  make(map[block.Hash]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Open returns immediately and loads the backing store on a background
// goroutine. A load failure is delivered as an error to every gated caller
// instead of hanging them.
func (q *Queue) Open() {
	q.mu.Lock()
	if q.opened || q.closed {
		q.mu.Unlock()
		return
	}
	q.opened = true
	q.mu.Unlock()

	exception.SafeGo("blockqueue.load", q.load)
}

func (q *Queue) load() {
	defer q.readyOnce.Do(func() { close(q.readyCh) })

	st, err := store.CreateQueueStore(&q.cfg, q.tuning)
	if err != nil {
		q.failInit(fmt.Errorf("%w: %v", ErrInitFailed, err))
		return
	}

	blocks := make(map[uint64]*block.Block)
	var index []uint64
	err = st.Load(func(b *block.Block) error {
		blocks[b.Number] = b
		index = append(index, b.Number)
		return nil
	})
	if err != nil {
		st.Close()
		q.failInit(fmt.Errorf("%w: %v", ErrInitFailed, err))
		return
	}
	hashes := make(map[block.Hash]struct{}, len(blocks))
	err = st.LoadHashes(func(h block.Hash) error {
		hashes[h] = struct{}{}
		return nil
	})
	if err != nil {
		st.Close()
		q.failInit(fmt.Errorf("%w: %v", ErrInitFailed, err))
		return
	}
	sort.Slice(index, func(i, j int) bool { return index[i] < index[j] })

	q.mu.Lock()
	if q.closed {
		// Close raced the load; the store must not outlive the queue
		q.mu.Unlock()
		st.Close()
		return
	}
	q.st = st
	q.blocks = blocks
	q.hashes = hashes
	q.index = index
	q.mu.Unlock()

	monitoring.SetQueueSize(len(index))
	logx.Info("BLOCKQUEUE", "Opened queue with ", len(index), " pending blocks")
}

func (q *Queue) failInit(err error) {
	q.mu.Lock()
	q.initErr = err
	q.mu.Unlock()
	logx.Error("BLOCKQUEUE", "Failed to open queue: ", err)
}

// awaitReady blocks until the background load finishes, then reports its
// outcome. The wait is unbounded when Open was never called.
func (q *Queue) awaitReady() error {
	<-q.readyCh
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateErrLocked()
}

func (q *Queue) awaitReadyCtx(ctx context.Context) error {
	select {
	case <-q.readyCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateErrLocked()
}

func (q *Queue) stateErrLocked() error {
	if q.initErr != nil {
		return q.initErr
	}
	if q.closed {
		return ErrClosed
	}
	return nil
}

// Close waits for any in-flight load, releases the backing store and wakes
// every blocked consumer with ErrClosed. Closing twice is a no-op.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	// closed must be visible before the gate opens, a waiter released below
	// would otherwise pass the state check and touch a nil store
	q.closed = true
	opened := q.opened
	q.mu.Unlock()

	if opened {
		<-q.readyCh
	} else {
		q.readyOnce.Do(func() { close(q.readyCh) })
	}

	q.mu.Lock()
	st := q.st
	q.st = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	if st != nil {
		if err := st.Close(); err != nil {
			return logx.Errorf("blockqueue: close store: %w", err)
		}
	}
	logx.Info("BLOCKQUEUE", "Queue closed")
	return nil
}

// Add inserts a single block. A block whose number is already queued is
// silently skipped.
func (q *Queue) Add(b *block.Block) error {
	return q.AddAll([]*block.Block{b})
}

// AddAll inserts a batch of blocks as one critical section and one durable
// commit. Blocks whose number is already queued are skipped; duplicate
// numbers within the batch resolve first-wins.
func (q *Queue) AddAll(batch []*block.Block) error {
	if err := q.awaitReady(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.stateErrLocked(); err != nil {
		return err
	}

	fresh := make([]*block.Block, 0, len(batch))
	seen := make(map[uint64]struct{}, len(batch))
	dups := 0
	for _, b := range batch {
		if b == nil {
			continue
		}
		if _, ok := q.blocks[b.Number]; ok {
			dups++
			continue
		}
		if _, ok := seen[b.Number]; ok {
			dups++
			continue
		}
		seen[b.Number] = struct{}{}
		fresh = append(fresh, b)
	}
	if dups > 0 {
		monitoring.IncreaseDuplicateCount(dups)
	}
	if len(fresh) == 0 {
		return nil
	}

	mut := q.st.Batch()
	for _, b := range fresh {
		if err := mut.PutBlock(b); err != nil {
			return logx.Errorf("blockqueue: stage block %d: %w", b.Number, err)
		}
	}
	if err := q.commit(mut); err != nil {
		return logx.Errorf("blockqueue: commit add: %w", err)
	}

	for _, b := range fresh {
		q.blocks[b.Number] = b
		q.hashes[b.Hash] = struct{}{}
		q.index = insertOrdinal(q.index, b.Number)
	}

	monitoring.IncreaseEnqueuedCount(len(fresh))
	monitoring.SetQueueSize(len(q.index))
	q.warnIfBacklogged()
	q.cond.Broadcast()
	return nil
}

// Poll removes and returns the lowest-numbered pending block, or (nil, nil)
// when the queue is empty.
func (q *Queue) Poll() (*block.Block, error) {
	if err := q.awaitReady(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.stateErrLocked(); err != nil {
		return nil, err
	}
	return q.pollLocked()
}

// Peek returns the lowest-numbered pending block without removing it, or
// (nil, nil) when the queue is empty. The caller must not mutate the
// returned block.
func (q *Queue) Peek() (*block.Block, error) {
	if err := q.awaitReady(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.stateErrLocked(); err != nil {
		return nil, err
	}
	if len(q.index) == 0 {
		return nil, nil
	}
	return q.blocks[q.index[0]], nil
}

// Take removes and returns the lowest-numbered pending block, blocking until
// one is available, ctx is done, or the queue is closed. Exactly one waiter
// receives each block.
func (q *Queue) Take(ctx context.Context) (*block.Block, error) {
	if err := q.awaitReadyCtx(ctx); err != nil {
		return nil, err
	}

	// wake the cond wait when ctx fires, Wait itself is not cancellable
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if err := q.stateErrLocked(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := q.pollLocked()
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
		q.cond.Wait()
	}
}

// pollLocked pops the head of the index, committing the removal before the
// in-memory state changes. Returns (nil, nil) on an empty queue.
func (q *Queue) pollLocked() (*block.Block, error) {
	if len(q.index) == 0 {
		return nil, nil
	}

	head := q.index[0]
	b := q.blocks[head]

	mut := q.st.Batch()
	mut.DeleteBlock(b.Number, b.Hash)
	if err := q.commit(mut); err != nil {
		return nil, logx.Errorf("blockqueue: commit poll: %w", err)
	}

	delete(q.blocks, head)
	delete(q.hashes, b.Hash)
	q.index = q.index[1:]

	monitoring.IncreaseDequeuedCount()
	monitoring.SetQueueSize(len(q.index))
	return b, nil
}

// Size reports the number of pending blocks. It returns 0 if the queue
// failed to initialize or is closed.
func (q *Queue) Size() int {
	if err := q.awaitReady(); err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// IsEmpty reports whether no blocks are pending.
func (q *Queue) IsEmpty() bool {
	if err := q.awaitReady(); err != nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index) == 0
}

// Clear atomically empties the queue and its durable state in one commit.
func (q *Queue) Clear() error {
	if err := q.awaitReady(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.stateErrLocked(); err != nil {
		return err
	}

	start := time.Now()
	if err := q.st.Clear(); err != nil {
		return logx.Errorf("blockqueue: commit clear: %w", err)
	}
	monitoring.RecordCommitDuration(time.Since(start))

	q.blocks = make(map[uint64]*block.Block)
	q.hashes = make(map[block.Hash]struct{})
	q.index = nil

	monitoring.SetQueueSize(0)
	logx.Info("BLOCKQUEUE", "Queue cleared")
	return nil
}

// FilterExisting returns, in input order, the hashes that are NOT currently
// queued. The download layer uses it to avoid re-requesting queued blocks.
func (q *Queue) FilterExisting(candidates []block.Hash) ([]block.Hash, error) {
	if err := q.awaitReady(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.stateErrLocked(); err != nil {
		return nil, err
	}

	missing := make([]block.Hash, 0, len(candidates))
	for _, h := range candidates {
		if _, ok := q.hashes[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing, nil
}

// Hashes returns a snapshot copy of the queued block hashes. Mutating the
// returned set does not affect the queue.
func (q *Queue) Hashes() (map[block.Hash]struct{}, error) {
	if err := q.awaitReady(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.stateErrLocked(); err != nil {
		return nil, err
	}

	snapshot := make(map[block.Hash]struct{}, len(q.hashes))
	for h := range q.hashes {
		snapshot[h] = struct{}{}
	}
	return snapshot, nil
}

func (q *Queue) commit(mut store.QueueBatch) error {
	start := time.Now()
	if err := mut.Write(); err != nil {
		return err
	}
	monitoring.RecordCommitDuration(time.Since(start))
	return nil
}

func (q *Queue) warnIfBacklogged() {
	if q.tuning == nil || q.tuning.WarnPendingBlocks <= 0 {
		return
	}
	if len(q.index) >= q.tuning.WarnPendingBlocks {
		logx.Warn("BLOCKQUEUE", "Pending backlog at ", len(q.index),
			" blocks, import pipeline may be falling behind")
	}
}

// insertOrdinal inserts n into ascending index, keeping it sorted. The caller
// guarantees n is not already present.
func insertOrdinal(index []uint64, n uint64) []uint64 {
	i := sort.Search(len(index), func(i int) bool { return index[i] >= n })
	index = append(index, 0)
	copy(index[i+1:], index[i:])
	index[i] = n
	return index
}
