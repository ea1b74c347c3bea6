// Package redistest fornece um Redis em memória para testes, ligado ao
// go-redis por hook: nenhum comando sai para a rede.
//
// Cobre só o que o gateway usa: PING, GET, SET, INCR, EXPIRE, HINCRBY e
// HGETALL. TTLs são registrados, não aplicados.
package redistest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrOffline é devolvido por todo comando enquanto Fake.Offline estiver ligado.
var ErrOffline = errors.New("redistest: offline")

type Fake struct {
	mu      sync.Mutex
	strs    map[string]string
	hashes  map[string]map[string]int64
	ttls    map[string]time.Duration
	offline bool
}

// New devolve um cliente cujos comandos são atendidos pelo Fake.
func New() (*redis.Client, *Fake) {
	f := &Fake{
		strs:   make(map[string]string),
		hashes: make(map[string]map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
	rdb := redis.NewClient(&redis.Options{Addr: "redistest:0", MaxRetries: -1})
	rdb.AddHook(f)
	return rdb, f
}

// SetOffline faz todos os comandos seguintes falharem.
func (f *Fake) SetOffline(off bool) {
	f.mu.Lock()
	f.offline = off
	f.mu.Unlock()
}

func (f *Fake) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strs[key]
	return v, ok
}

func (f *Fake) Hash(key string) map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out
}

func (f *Fake) TTL(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func (f *Fake) DialHook(redis.DialHook) redis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("redistest: dialing is disabled")
	}
}

func (f *Fake) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		f.apply(cmd)
		return cmd.Err()
	}
}

func (f *Fake) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			f.apply(cmd)
		}
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
		}
		return nil
	}
}

func (f *Fake) apply(cmd redis.Cmder) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.offline {
		cmd.SetErr(ErrOffline)
		return
	}

	args := cmd.Args()
	arg := func(i int) string {
		if i >= len(args) {
			return ""
		}
		switch v := args[i].(type) {
		case string:
			return v
		case []byte:
			return string(v)
		default:
			return fmt.Sprint(v)
		}
	}

	switch strings.ToLower(cmd.Name()) {
	case "ping":
		setStatus(cmd, "PONG")
	case "get":
		v, ok := f.strs[arg(1)]
		if c, isStr := cmd.(*redis.StringCmd); isStr {
			if ok {
				c.SetVal(v)
			} else {
				c.SetErr(redis.Nil)
			}
		}
	case "set":
		f.strs[arg(1)] = arg(2)
		if strings.EqualFold(arg(3), "ex") {
			f.ttls[arg(1)] = time.Duration(atoi(arg(4))) * time.Second
		} else if strings.EqualFold(arg(3), "px") {
			f.ttls[arg(1)] = time.Duration(atoi(arg(4))) * time.Millisecond
		}
		setStatus(cmd, "OK")
	case "incr":
		n := atoi(f.strs[arg(1)]) + 1
		f.strs[arg(1)] = strconv.FormatInt(n, 10)
		if c, ok := cmd.(*redis.IntCmd); ok {
			c.SetVal(n)
		}
	case "expire":
		f.ttls[arg(1)] = time.Duration(atoi(arg(2))) * time.Second
		if c, ok := cmd.(*redis.BoolCmd); ok {
			c.SetVal(true)
		}
	case "hincrby":
		h := f.hashes[arg(1)]
		if h == nil {
			h = make(map[string]int64)
			f.hashes[arg(1)] = h
		}
		h[arg(2)] += atoi(arg(3))
		if c, ok := cmd.(*redis.IntCmd); ok {
			c.SetVal(h[arg(2)])
		}
	case "hgetall":
		out := make(map[string]string, len(f.hashes[arg(1)]))
		for k, v := range f.hashes[arg(1)] {
			out[k] = strconv.FormatInt(v, 10)
		}
		if c, ok := cmd.(*redis.MapStringStringCmd); ok {
			c.SetVal(out)
		}
	}
}

func setStatus(cmd redis.Cmder, v string) {
	if c, ok := cmd.(*redis.StatusCmd); ok {
		c.SetVal(v)
	}
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
