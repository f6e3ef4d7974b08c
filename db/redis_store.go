package db

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"rollbook-server-go/config"
	"rollbook-server-go/metrics"
	"rollbook-server-go/models"
)

const (
	defaultPrefix     = "rollbook"
	defaultMaxRetries = 5
)

// RedisStore keeps each teacher namespace in one Redis hash: the field is the
// leaf path ("attendance/{courseId}/{date}/{studentId}") and the value its
// JSON encoding. A sorted set next to the hash indexes the field names so
// subtree reads never scan the hash. Every write runs under WATCH on both
// keys, so a write either lands entirely or not at all, and committed writes
// are announced on the namespace's change channel.
type RedisStore struct {
	Client *redis.Client
	Prefix string
	// MaxRetries bounds re-attempts after an optimistic-lock conflict.
	// Transport errors are never retried.
	MaxRetries int
}

// NewRedisStore creates a new RedisStore instance
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{
		Client:     client,
		Prefix:     prefix,
		MaxRetries: defaultMaxRetries,
	}
}

// Helper to generate the namespace hash key
func (s *RedisStore) namespaceKey(ns string) string {
	return s.Prefix + ":teachers:" + ns
}

// Helper to generate the key of the namespace's field index, a sorted set
// of every field name scored 0 so prefix reads are range reads.
func (s *RedisStore) indexKey(ns string) string {
	return s.namespaceKey(ns) + ":paths"
}

// Helper to generate the namespace change channel
func (s *RedisStore) changesChannel(ns string) string {
	return s.namespaceKey(ns) + ":changes"
}

// fieldReader is the read side shared by *redis.Client, *redis.Tx and their
// pipelines.
type fieldReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	ZRangeByLex(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
}

// subtreeRange bounds the index members at or beneath path. Every field
// below "a/b" sorts in ["a/b", "a/b0") because '0' follows '/'; siblings
// such as "a/b-2" also fall in that range and are dropped by within.
func subtreeRange(path string) *redis.ZRangeBy {
	if path == "" {
		return &redis.ZRangeBy{Min: "-", Max: "+"}
	}
	return &redis.ZRangeBy{Min: "[" + path, Max: "(" + path + "0"}
}

func fieldsWithin(names []string, path string) []string {
	out := names[:0]
	for _, n := range names {
		if within(n, path) {
			out = append(out, n)
		}
	}
	return out
}

// readSubtree returns the raw leaf fields at or beneath path: one index
// range read and one HMGET, whatever the size of the namespace.
func (s *RedisStore) readSubtree(ctx context.Context, r fieldReader, ns, path string) (map[string]string, error) {
	names, err := r.ZRangeByLex(ctx, s.indexKey(ns), subtreeRange(path)).Result()
	if err != nil {
		return nil, err
	}
	names = fieldsWithin(names, path)
	fields := make(map[string]string, len(names))
	if len(names) == 0 {
		return fields, nil
	}
	vals, err := r.HMGet(ctx, s.namespaceKey(ns), names...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if raw, ok := v.(string); ok {
			fields[names[i]] = raw
		}
	}
	return fields, nil
}

// --- Reads ---

// Get retrieves the subtree at path; nil when absent.
func (s *RedisStore) Get(ctx context.Context, ns, path string) (interface{}, error) {
	if ns == "" {
		return nil, nil // no identity, no data
	}
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	fields, err := s.readSubtree(ctx, s.Client, ns, p)
	if err != nil {
		log.Printf("Error reading %s for teacher %s: %v", p, ns, err)
		return nil, errors.Wrapf(err, "failed to read %q from Redis", p)
	}
	return unflatten(p, fields)
}

// --- Writes ---

type writeOp struct {
	path  string
	value interface{}
}

func opsOf(values map[string]interface{}) []writeOp {
	ops := make([]writeOp, 0, len(values))
	for p, v := range values {
		ops = append(ops, writeOp{path: p, value: v})
	}
	return ops
}

// pendingWrite is a validated multi-path write ready to commit.
type pendingWrite struct {
	ops     []writeOp
	sets    map[string]interface{}
	changed []string
	payload string
}

// prepareWrite normalises and orders ops, checks that no path contains
// another and flattens the new values into leaf fields. It returns nil when
// there is nothing to write.
func prepareWrite(ops []writeOp) (*pendingWrite, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	for i := range ops {
		p, err := cleanPath(ops[i].path)
		if err != nil {
			return nil, err
		}
		ops[i].path = p
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].path < ops[j].path })
	for i := 1; i < len(ops); i++ {
		if overlaps(ops[i-1].path, ops[i].path) {
			return nil, models.NewValidationError(errors.Errorf("overlapping paths %q and %q", ops[i-1].path, ops[i].path))
		}
	}

	w := &pendingWrite{ops: ops, sets: map[string]interface{}{}, changed: make([]string, 0, len(ops))}
	for _, op := range ops {
		if err := flatten(op.path, op.value, w.sets); err != nil {
			return nil, models.NewValidationError(err)
		}
		w.changed = append(w.changed, op.path)
	}
	payload, err := json.Marshal(w.changed)
	if err != nil {
		return nil, err
	}
	w.payload = string(payload)
	return w, nil
}

// Push stores value under a new time-ordered child id of parentPath.
func (s *RedisStore) Push(ctx context.Context, ns, parentPath string, value interface{}) (string, error) {
	id := newID()
	if err := s.Set(ctx, ns, JoinPath(parentPath, id), value); err != nil {
		return "", err
	}
	return id, nil
}

// Set replaces the subtree at path.
func (s *RedisStore) Set(ctx context.Context, ns, path string, value interface{}) error {
	return s.write(ctx, ns, []writeOp{{path: path, value: value}})
}

// Update replaces each named child of path; keys may themselves be relative paths.
func (s *RedisStore) Update(ctx context.Context, ns, path string, values map[string]interface{}) error {
	ops := make([]writeOp, 0, len(values))
	for k, v := range values {
		if strings.Trim(k, "/") == "" {
			return models.NewValidationError(errors.Errorf("empty child key under %q", path))
		}
		ops = append(ops, writeOp{path: JoinPath(path, k), value: v})
	}
	return s.write(ctx, ns, ops)
}

// Remove deletes the subtree at path.
func (s *RedisStore) Remove(ctx context.Context, ns, path string) error {
	return s.write(ctx, ns, []writeOp{{path: path}})
}

// MultiUpdate applies every path -> value pair atomically; nil deletes.
func (s *RedisStore) MultiUpdate(ctx context.Context, ns string, values map[string]interface{}) error {
	return s.write(ctx, ns, opsOf(values))
}

func (s *RedisStore) write(ctx context.Context, ns string, ops []writeOp) error {
	if ns == "" {
		return models.ErrNoIdentity
	}
	w, err := prepareWrite(ops)
	if err != nil || w == nil {
		return err
	}
	return s.commit(ctx, ns, func(*redis.Tx) (*pendingWrite, error) { return w, nil })
}

// Transact reads through the watched namespace and commits the update fn
// returns in the same atomic write. fn runs again when another write lands
// in between; an error from fn aborts without writing.
func (s *RedisStore) Transact(ctx context.Context, ns string, fn TxFunc) error {
	if ns == "" {
		return models.ErrNoIdentity
	}
	return s.commit(ctx, ns, func(tx *redis.Tx) (*pendingWrite, error) {
		values, err := fn(func(path string) (interface{}, error) {
			p, err := cleanPath(path)
			if err != nil {
				return nil, err
			}
			fields, err := s.readSubtree(ctx, tx, ns, p)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read %q from Redis", p)
			}
			return unflatten(p, fields)
		})
		if err != nil {
			return nil, err
		}
		return prepareWrite(opsOf(values))
	})
}

// staleFields lists the stored fields each op replaces: everything at or
// under its path plus any leaf stored at an ancestor, which would shadow the
// new value. All lookups share one round trip.
func (s *RedisStore) staleFields(ctx context.Context, tx *redis.Tx, ns string, ops []writeOp) ([]string, error) {
	subtrees := make([]*redis.StringSliceCmd, len(ops))
	ancestorHits := make([]*redis.SliceCmd, len(ops))
	_, err := tx.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			subtrees[i] = pipe.ZRangeByLex(ctx, s.indexKey(ns), subtreeRange(op.path))
			if op.value == nil {
				continue
			}
			if anc := ancestors(op.path); len(anc) > 0 {
				ancestorHits[i] = pipe.HMGet(ctx, s.namespaceKey(ns), anc...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var stale []string
	for i, op := range ops {
		stale = append(stale, fieldsWithin(subtrees[i].Val(), op.path)...)
		if ancestorHits[i] == nil {
			continue
		}
		anc := ancestors(op.path)
		for j, v := range ancestorHits[i].Val() {
			if v != nil {
				stale = append(stale, anc[j])
			}
		}
	}
	return stale, nil
}

// commit runs build under WATCH on the namespace hash and its index, then
// applies the write in one MULTI/EXEC. Only optimistic-lock conflicts are
// retried.
func (s *RedisStore) commit(ctx context.Context, ns string, build func(tx *redis.Tx) (*pendingWrite, error)) error {
	key, index := s.namespaceKey(ns), s.indexKey(ns)
	var (
		w       *pendingWrite
		aborted error
	)
	txf := func(tx *redis.Tx) error {
		var err error
		if w, err = build(tx); err != nil {
			aborted = err
			return err
		}
		if w == nil {
			return nil
		}
		stale, err := s.staleFields(ctx, tx, ns, w.ops)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(stale) > 0 {
				pipe.HDel(ctx, key, stale...)
				members := make([]interface{}, len(stale))
				for i, f := range stale {
					members[i] = f
				}
				pipe.ZRem(ctx, index, members...)
			}
			if len(w.sets) > 0 {
				pipe.HSet(ctx, key, w.sets)
				members := make([]*redis.Z, 0, len(w.sets))
				for f := range w.sets {
					members = append(members, &redis.Z{Member: f})
				}
				pipe.ZAdd(ctx, index, members...)
			}
			pipe.Publish(ctx, s.changesChannel(ns), w.payload)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		aborted = nil
		err = s.Client.Watch(ctx, txf, key, index)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		metrics.StoreWrites.WithLabelValues("conflict").Inc()
	}
	if aborted != nil {
		return aborted
	}
	if err != nil {
		metrics.StoreWrites.WithLabelValues("error").Inc()
		var changed []string
		if w != nil {
			changed = w.changed
		}
		log.Printf("Error writing %v for teacher %s: %v", changed, ns, err)
		return errors.Wrap(err, "failed to write to Redis")
	}
	if w != nil {
		metrics.StoreWrites.WithLabelValues("ok").Inc()
	}
	return nil
}

// --- Subscriptions ---

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (sub *redisSubscription) Close() error {
	sub.once.Do(func() {
		sub.cancel()
		sub.err = sub.pubsub.Close()
		<-sub.done
		metrics.ActiveSubscriptions.Dec()
	})
	return sub.err
}

// Subscribe delivers the value at path now and after every committed write
// that touches it. Callbacks of one subscription run serially, in commit order.
func (s *RedisStore) Subscribe(ctx context.Context, ns, path string, fn func(value interface{})) (Subscription, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if ns == "" {
		fn(nil)
		return nopSubscription{}, nil
	}

	pubsub := s.Client.Subscribe(ctx, s.changesChannel(ns))
	// Wait for the confirmation so no write between here and the first read is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrapf(err, "failed to subscribe to %q", p)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	metrics.ActiveSubscriptions.Inc()

	ch := pubsub.Channel()
	go func() {
		defer close(sub.done)
		deliver := func() {
			v, err := s.Get(subCtx, ns, p)
			if err != nil {
				if subCtx.Err() == nil {
					log.Printf("Error refreshing subscription %s for teacher %s: %v", p, ns, err)
				}
				return
			}
			if subCtx.Err() == nil {
				fn(v)
			}
		}

		deliver()
		for msg := range ch {
			if subCtx.Err() != nil {
				return
			}
			var changed []string
			if err := json.Unmarshal([]byte(msg.Payload), &changed); err != nil {
				log.Printf("Ignoring malformed change message on %s: %v", msg.Channel, err)
				continue
			}
			for _, c := range changed {
				if overlaps(c, p) {
					deliver()
					break
				}
			}
		}
	}()
	return sub, nil
}

// --- Utility ---

// InitializeRedisClient creates and tests a Redis client connection
func InitializeRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Ping Redis to check connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "could not connect to Redis at %s", cfg.Addr)
	}

	log.Printf("Successfully connected to Redis DB %d at %s", cfg.DB, cfg.Addr)
	return rdb, nil
}
