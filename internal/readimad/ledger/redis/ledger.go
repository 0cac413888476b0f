package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
)

// DefaultKeyPrefix namespaces ledger entries in a shared Redis.
const DefaultKeyPrefix = "readimad:ledger:"

// Script replies. Each script performs its read-modify-write atomically on
// the server, so concurrent callers on one key cannot interleave.
const (
	replyCreated          = 0
	replyAlreadyAuthentic = 1
	replyRedeemed         = 2
	replyNotAuthentic     = 3
	replyOK               = 4
)

var registerScript = redis.NewScript(`
local s = redis.call('GET', KEYS[1])
if not s then
  redis.call('SET', KEYS[1], ARGV[1])
  return 0
end
if s == ARGV[1] then
  return 1
end
return 2
`)

var redeemScript = redis.NewScript(`
local s = redis.call('GET', KEYS[1])
if not s then
  return 3
end
if s == ARGV[2] then
  return 2
end
if s ~= ARGV[1] then
  return -1
end
redis.call('SET', KEYS[1], ARGV[2])
return 4
`)

var (
	authenticCode = strconv.Itoa(int(ledger.StatusAuthentic))
	redeemedCode  = strconv.Itoa(int(ledger.StatusRedeemed))
)

// Ledger stores each entry as a string key holding the status code.
type Ledger struct {
	client *redis.Client
	prefix string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(p string) Option {
	return func(l *Ledger) { l.prefix = p }
}

func New(client *redis.Client, opts ...Option) *Ledger {
	l := &Ledger{client: client, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *Ledger) redisKey(k identity.Key) string {
	return l.prefix + k.Hex()[2:]
}

func (l *Ledger) RegisterAsAuthentic(ctx context.Context, key identity.Key) (ledger.Outcome, error) {
	n, err := registerScript.Run(ctx, l.client, []string{l.redisKey(key)}, authenticCode).Int()
	if err != nil {
		return ledger.OutcomeNone, ledger.Unavailable(fmt.Errorf("register script: %w", err))
	}
	return registerReply(n)
}

func registerReply(n int) (ledger.Outcome, error) {
	switch n {
	case replyCreated:
		return ledger.OutcomeCreated, nil
	case replyAlreadyAuthentic:
		return ledger.OutcomeAlreadyAuthentic, nil
	case replyRedeemed:
		return ledger.OutcomeNone, ledger.ErrCannotReauthenticateRedeemed
	default:
		return ledger.OutcomeNone, ledger.Unavailable(fmt.Errorf("register script: unexpected reply %d", n))
	}
}

// RegisterBatch sends every registration in one pipeline. The scripts still
// run one key at a time on the server, in input order.
func (l *Ledger) RegisterBatch(ctx context.Context, keys []identity.Key) ledger.BatchResult {
	if len(keys) == 0 {
		return ledger.BatchResult{}
	}

	// EVALSHA inside a pipeline cannot fall back on NOSCRIPT, so load first.
	if err := registerScript.Load(ctx, l.client).Err(); err != nil {
		return ledger.FailAll(keys, ledger.Unavailable(fmt.Errorf("load register script: %w", err)))
	}

	pipe := l.client.Pipeline()
	cmds := make([]*redis.Cmd, len(keys))
	for i, k := range keys {
		cmds[i] = registerScript.EvalSha(ctx, pipe, []string{l.redisKey(k)}, authenticCode)
	}
	// Per-command errors are inspected below; Exec only reports the first.
	_, _ = pipe.Exec(ctx)

	res := ledger.BatchResult{Results: make([]ledger.KeyResult, len(keys))}
	for i, k := range keys {
		r := ledger.KeyResult{Key: k}
		n, err := cmds[i].Int()
		if err != nil {
			r.Err = ledger.Unavailable(fmt.Errorf("register script: %w", err))
		} else {
			r.Outcome, r.Err = registerReply(n)
		}
		res.Results[i] = r
	}
	return res
}

func (l *Ledger) MarkRedeemed(ctx context.Context, key identity.Key) error {
	n, err := redeemScript.Run(ctx, l.client, []string{l.redisKey(key)}, authenticCode, redeemedCode).Int()
	if err != nil {
		return ledger.Unavailable(fmt.Errorf("redeem script: %w", err))
	}
	switch n {
	case replyOK:
		return nil
	case replyRedeemed:
		return ledger.ErrAlreadyRedeemed
	case replyNotAuthentic:
		return ledger.ErrNotAuthentic
	default:
		return ledger.Unavailable(fmt.Errorf("redeem script: unexpected reply %d", n))
	}
}

func (l *Ledger) GetStatus(ctx context.Context, key identity.Key) (ledger.Status, error) {
	v, err := l.client.Get(ctx, l.redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return ledger.StatusUnknown, nil
	}
	if err != nil {
		return ledger.StatusUnknown, ledger.Unavailable(fmt.Errorf("get status: %w", err))
	}
	return ledger.StatusFromCode(v), nil
}

func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return ledger.Unavailable(err)
	}
	return nil
}
