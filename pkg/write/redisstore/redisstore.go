// Package redisstore is an authoritative store on Redis. Each record is one
// hash; a Lua script evaluates predicates and applies a batch atomically.
//
// Every column and map entry written with a TTL gets a companion field
// holding its expiry in Unix milliseconds, and the row marker field holds the
// expiry of the statement that created the record. Expired fields are dropped
// by the next write and skipped by reads. Once nothing in the hash is
// permanent the key itself gets a native expiry at its last deadline.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/surrealdb/surreallms/pkg/write"
)

// Hash field prefixes.
const (
	keyPrefix = "k:"
	colPrefix = "c:"
	mapPrefix = "m:"
	expPrefix = "x:"
)

// rowField is the row marker: the creating statement's expiry, 0 for none.
const rowField = "r"

// Options configures a Redis store.
type Options struct {
	URL         string
	Prefix      string
	PoolSize    int
	PoolTimeout time.Duration
}

type Store struct {
	client *redis.Client
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	if opts.PoolTimeout == 0 {
		opts.PoolTimeout = 30 * time.Second
	}

	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opt.PoolSize = opts.PoolSize
	opt.PoolTimeout = opts.PoolTimeout
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client. Keys are namespaced under prefix ("lms" when
// empty).
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "lms"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) redisKey(k write.Key) string {
	return s.prefix + ":" + k.Table + ":" + k.DocID()
}

// applyScript receives one key and, per intent, the argument groups
//
//	pred ttl_ms del nset field value ... nrem field ...
//
// It drops expired fields first, then checks every predicate (1 must not
// exist, 2 must exist) against what is left. HSET and HDEL go out in chunks so
// large batches stay under Lua's unpack limit.
var applyScript = redis.NewScript(`
local key = KEYS[1]
local n = tonumber(ARGV[1])
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local chunk = 500

local function hset(kv)
  for x = 1, #kv, chunk * 2 do
    redis.call('HSET', key, unpack(kv, x, math.min(x + chunk * 2 - 1, #kv)))
  end
end

local function hdel(fs)
  for x = 1, #fs, chunk do
    redis.call('HDEL', key, unpack(fs, x, math.min(x + chunk - 1, #fs)))
  end
end

local function cell(f)
  local p = string.sub(f, 1, 2)
  return p == 'c:' or p == 'm:'
end

local function load()
  local h = redis.call('HGETALL', key)
  local fields = {}
  for x = 1, #h, 2 do
    fields[h[x]] = h[x + 1]
  end
  return fields, #h > 0
end

local exists = false
local fields, present = load()
if present then
  local row = tonumber(fields['r'] or '0')
  local alive = row == 0 or row > now
  local dead = {}
  for f in pairs(fields) do
    if cell(f) then
      local e = tonumber(fields['x:' .. f] or '0')
      if e > 0 and e <= now then
        dead[#dead + 1] = f
        dead[#dead + 1] = 'x:' .. f
      else
        alive = true
      end
    end
  end
  if alive then
    exists = true
    hdel(dead)
  else
    redis.call('DEL', key)
  end
end

local intents = {}
local i = 2
for j = 1, n do
  local it = {}
  it.pred = tonumber(ARGV[i])
  it.ttl = tonumber(ARGV[i + 1])
  it.del = ARGV[i + 2] == '1'
  local nset = tonumber(ARGV[i + 3])
  i = i + 4
  it.set = {}
  for x = 1, nset * 2 do
    it.set[x] = ARGV[i]
    i = i + 1
  end
  local nrem = tonumber(ARGV[i])
  i = i + 1
  it.rem = {}
  for x = 1, nrem do
    it.rem[x] = ARGV[i]
    i = i + 1
  end
  if it.pred == 1 and exists then return 0 end
  if it.pred == 2 and not exists then return 0 end
  intents[j] = it
end

for j = 1, n do
  local it = intents[j]
  if it.del then
    redis.call('DEL', key)
    exists = false
  else
    local exp = 0
    if it.ttl > 0 then exp = now + it.ttl end
    if not exists then
      redis.call('HSET', key, 'r', exp)
      exists = true
    end
    hset(it.set)
    local stamps = {}
    local clears = {}
    for x = 1, #it.set, 2 do
      local f = it.set[x]
      if cell(f) then
        if exp > 0 then
          stamps[#stamps + 1] = 'x:' .. f
          stamps[#stamps + 1] = exp
        else
          clears[#clears + 1] = 'x:' .. f
        end
      end
    end
    hset(stamps)
    hdel(clears)
    local rem = {}
    for x = 1, #it.rem do
      rem[#rem + 1] = it.rem[x]
      rem[#rem + 1] = 'x:' .. it.rem[x]
    end
    hdel(rem)
  end
end

if exists then
  fields = load()
  local last = tonumber(fields['r'] or '0')
  local permanent = last == 0
  for f in pairs(fields) do
    if cell(f) then
      local e = tonumber(fields['x:' .. f] or '0')
      if e == 0 then
        permanent = true
      elseif e > last then
        last = e
      end
    end
  end
  if permanent then
    redis.call('PERSIST', key)
  else
    redis.call('PEXPIREAT', key, last)
  end
end
return 1
`)

func predCode(p write.Predicate) string {
	switch p {
	case write.MustNotExist:
		return "1"
	case write.MustExist:
		return "2"
	default:
		return "0"
	}
}

func encodeArgs(intents []write.Intent) ([]any, error) {
	args := []any{strconv.Itoa(len(intents))}
	for _, in := range intents {
		del := "0"
		if in.Delete {
			del = "1"
		}
		args = append(args, predCode(in.Predicate), strconv.FormatInt(in.TTL.Milliseconds(), 10), del)

		var pairs []any
		var rem []any
		if !in.Delete {
			for _, p := range in.Key.Parts {
				pairs = append(pairs, keyPrefix+p.Column, p.Value)
			}
			for col, v := range in.Set {
				b, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("encode column %q: %w", col, err)
				}
				pairs = append(pairs, colPrefix+col, string(b))
			}
			for k, v := range in.MapAssign {
				pairs = append(pairs, mapPrefix+k, v)
			}
			for _, k := range in.MapRemove {
				rem = append(rem, mapPrefix+k)
			}
		}
		args = append(args, strconv.Itoa(len(pairs)/2))
		args = append(args, pairs...)
		args = append(args, strconv.Itoa(len(rem)))
		args = append(args, rem...)
	}
	return args, nil
}

func (s *Store) Apply(ctx context.Context, intents []write.Intent) (bool, error) {
	if len(intents) == 0 {
		return true, nil
	}
	// Arguments are fully encoded before the script runs: a Lua script is not
	// rolled back if it fails halfway.
	args, err := encodeArgs(intents)
	if err != nil {
		return false, err
	}
	n, err := applyScript.Run(ctx, s.client, []string{s.redisKey(intents[0].Key)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis apply error: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Lookup(ctx context.Context, key write.Key) (write.Record, bool, error) {
	rk := s.redisKey(key)
	pipe := s.client.Pipeline()
	all := pipe.HGetAll(ctx, rk)
	clock := pipe.Time(ctx)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return write.Record{}, false, fmt.Errorf("redis lookup error: %w", err)
	}

	st, err := decode(key, all.Val())
	if err != nil {
		return write.Record{}, false, err
	}
	st = st.Live(clock.Val())
	if st == nil {
		return write.Record{}, false, nil
	}
	return st.Record(), true, nil
}

// decode reads a stored hash, expired fields included. It returns nil for an
// empty hash.
func decode(key write.Key, fields map[string]string) (*write.State, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	st := &write.State{Key: key, Columns: map[string]any{}}
	for f, v := range fields {
		switch {
		case f == rowField:
			st.RowExpiresAt = millis(v)
		case strings.HasPrefix(f, colPrefix):
			var val any
			if err := json.Unmarshal([]byte(v), &val); err != nil {
				return nil, fmt.Errorf("decode column %q: %w", f, err)
			}
			col := strings.TrimPrefix(f, colPrefix)
			st.Columns[col] = val
			if exp := millis(fields[expPrefix+f]); !exp.IsZero() {
				if st.ColumnExpiry == nil {
					st.ColumnExpiry = map[string]time.Time{}
				}
				st.ColumnExpiry[col] = exp
			}
		case strings.HasPrefix(f, mapPrefix):
			if st.Map == nil {
				st.Map = map[string]string{}
			}
			k := strings.TrimPrefix(f, mapPrefix)
			st.Map[k] = v
			if exp := millis(fields[expPrefix+f]); !exp.IsZero() {
				if st.MapExpiry == nil {
					st.MapExpiry = map[string]time.Time{}
				}
				st.MapExpiry[k] = exp
			}
		}
	}
	return st, nil
}

// millis parses a Unix millisecond expiry; "" and "0" mean none.
func millis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *Store) Close() error {
	return s.client.Close()
}
