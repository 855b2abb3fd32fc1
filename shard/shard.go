// Package shard stores opaque blobs as encrypted, content-addressed shards.
//
// Store seals the blob under a fresh key, addresses the ciphertext by its
// CID and writes it with a single call. It returns at once; the handle's
// Verification resolves in the background when the service reports the
// shard durable. Nothing is chunked or retried on the write path.
package shard

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"xdao.co/channels/cidutil"
	"xdao.co/channels/directory"
	"xdao.co/channels/fault"
	"xdao.co/channels/identity"
	"xdao.co/channels/internal/clock"
	"xdao.co/channels/internal/retry"
	"xdao.co/channels/storage"
)

// KeySize is the length of a shard key.
const KeySize = chacha20poly1305.KeySize

const (
	DefaultVerifyTimeout   = 2 * time.Minute
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultMaxPollInterval = 5 * time.Second
)

// ErrVerifyTimeout resolves a verification the service never confirmed.
var ErrVerifyTimeout = errors.New("shard: durability not confirmed in time")

type Config struct {
	VerifyTimeout   time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Cache, when set, keeps fetched ciphertext so repeated retrievals stay
	// local.
	Cache  storage.CAS
	Clock  clock.Clock
	Rand   io.Reader
	Logger *zap.Logger
}

// Coordinator stores and retrieves shards. Close stops outstanding
// verifications.
type Coordinator struct {
	dir directory.Client
	cfg Config
	log *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(dir directory.Client, cfg Config) *Coordinator {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval <= 0 {
		cfg.MaxPollInterval = DefaultMaxPollInterval
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	cfg.Clock = clock.OrReal(cfg.Clock)
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{dir: dir, cfg: cfg, log: log.Named("shard"), ctx: ctx, cancel: cancel}
}

// Close resolves pending verifications with context.Canceled and waits for
// their pollers to exit.
func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

// Seal encrypts data under key. The nonce is prepended to the ciphertext.
func Seal(key, data []byte, r io.Reader) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("shard: nonce: %w", err)
	}
	return aead.Seal(out, out, data, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("shard: ciphertext too short")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("shard: decrypt: %w", err)
	}
	return plain, nil
}

// Store writes data as a new shard paid for by payer.
func (c *Coordinator) Store(ctx context.Context, payer identity.Principal, data []byte) (*Handle, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(c.cfg.Rand, key); err != nil {
		return nil, fmt.Errorf("shard: key: %w", err)
	}
	sealed, err := Seal(key, data, c.cfg.Rand)
	if err != nil {
		return nil, err
	}
	id, err := cidutil.Sum(sealed)
	if err != nil {
		return nil, err
	}

	receipt, err := c.dir.StoreShard(ctx, payer, directory.ShardWrite{ID: id.String(), Data: sealed})
	if err != nil {
		return nil, fault.Wrap("store shard", err)
	}
	h := &Handle{
		Version:       receipt.Version,
		ID:            id.String(),
		Key:           encodeKey(key),
		StorageServer: receipt.StorageServer,
		Size:          len(data),
		Verification:  newVerification(),
	}
	if h.Version == "" {
		h.Version = Version
	}
	c.log.Debug("shard stored", zap.String("id", h.ID), zap.Int("size", len(data)))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.verify(h)
	}()
	return h, nil
}

// verify polls ShardStatus with backoff until the shard is durable, a
// non-transient error occurs, VerifyTimeout passes, or Close is called.
func (c *Coordinator) verify(h *Handle) {
	deadline := c.cfg.Clock.After(c.cfg.VerifyTimeout)
	policy := retry.Policy{
		InitialDelay: c.cfg.PollInterval,
		MaxDelay:     c.cfg.MaxPollInterval,
		Multiplier:   2,
	}
	for attempt := 1; ; attempt++ {
		st, err := c.dir.ShardStatus(c.ctx, h.ID)
		switch {
		case err == nil && st.Durable:
			c.log.Debug("shard verified", zap.String("id", h.ID), zap.Int("replicas", st.Replicas))
			h.Verification.resolve(Outcome{Verification: st.Verification, Replicas: st.Replicas}, nil)
			return
		case err != nil && !fault.Retryable(err):
			h.Verification.resolve(Outcome{}, fault.Wrap("shard status", err))
			return
		}
		select {
		case <-c.ctx.Done():
			h.Verification.resolve(Outcome{}, c.ctx.Err())
			return
		case <-deadline:
			c.log.Warn("shard verification timed out", zap.String("id", h.ID))
			h.Verification.resolve(Outcome{}, ErrVerifyTimeout)
			return
		case <-c.cfg.Clock.After(policy.Delay(attempt, nil)):
		}
	}
}

// Retrieve fetches the shard named by h, checks it against its ID and
// decrypts it.
func (c *Coordinator) Retrieve(ctx context.Context, h MinimalHandle) ([]byte, error) {
	id, err := cidutil.Parse(h.ID)
	if err != nil {
		return nil, fmt.Errorf("shard: id: %w", err)
	}
	key, err := decodeKey(h.Key)
	if err != nil {
		return nil, err
	}

	var sealed []byte
	if c.cfg.Cache != nil {
		cached, err := c.cfg.Cache.Get(id)
		switch {
		case err == nil:
			sealed = cached
		case storage.IsCorrupt(err):
			c.log.Warn("shard cache entry corrupt, refetching", zap.String("id", h.ID), zap.Error(err))
		}
	}
	if sealed == nil {
		sealed, err = c.dir.FetchShard(ctx, h.ID)
		if err != nil {
			return nil, fault.Wrap("fetch shard", err)
		}
		if !cidutil.Matches(id, sealed) {
			return nil, fmt.Errorf("shard: %s: %w", h.ID, storage.ErrCIDMismatch)
		}
		if c.cfg.Cache != nil {
			if _, err := c.cfg.Cache.Put(sealed); err != nil {
				c.log.Warn("shard cache write failed", zap.String("id", h.ID), zap.Error(err))
			}
		}
	}
	return Open(key, sealed)
}
