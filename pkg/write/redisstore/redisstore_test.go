package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lmserrors "github.com/surrealdb/surreallms/pkg/errors"
	"github.com/surrealdb/surreallms/pkg/plan"
	"github.com/surrealdb/surreallms/pkg/write"
)

var tables = []write.Table{
	{Name: "users", Key: []string{"user_id"}, Map: "info"},
	{Name: "exam_works", Key: []string{"teacher_id", "course_id", "exam_id", "student_id"}},
}

func newTestExecutor(t *testing.T) (*write.Executor, *miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = store.Close() })
	return write.NewExecutor(store, tables), mr, store
}

func userKey(id string) write.Key {
	return write.NewKey("users", "user_id", id)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := Open(context.Background(), Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(context.Background(), Options{URL: "not a url"})
	require.Error(t, err)
}

func TestMustNotExistTwice(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)

	in := write.Intent{Key: userKey("alice"), Set: map[string]any{"username": "alice"}, Predicate: write.MustNotExist}
	applied, err := exec.Write(ctx, in)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = exec.Write(ctx, in)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, "alice", mr.HGet("lms:users:alice", "k:user_id"))
	assert.Equal(t, `"alice"`, mr.HGet("lms:users:alice", "c:username"))
}

func TestMustExistDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)

	applied, err := exec.Write(ctx, write.Intent{Key: userKey("ghost"), Set: map[string]any{"email": "g"}, Predicate: write.MustExist})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, mr.Exists("lms:users:ghost"))
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)
	key := write.NewKey("exam_works", "teacher_id", "t", "course_id", "c", "exam_id", "e", "student_id", "s")

	applied, err := exec.Write(ctx, write.Intent{
		Key:       key,
		Set:       map[string]any{"content": "[]"},
		Predicate: write.MustNotExist,
		TTL:       time.Second,
	})
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "[]", rec.Columns["content"])
	assert.False(t, rec.ExpiresAt.IsZero())

	mr.FastForward(2 * time.Second)

	_, err = exec.Lookup(ctx, key)
	assert.True(t, lmserrors.IsNotFound(err))
}

func TestColumnTTL(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mr.SetTime(base)
	key := userKey("u5")

	_, err := exec.Write(ctx, write.Intent{Key: key, Set: map[string]any{"username": "e"}, Predicate: write.MustNotExist})
	require.NoError(t, err)
	applied, err := exec.Write(ctx, write.Intent{
		Key:       key,
		Set:       map[string]any{"email": "e@x"},
		Predicate: write.MustExist,
		TTL:       time.Second,
	})
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Second), rec.ColumnExpiry["email"].UTC())
	assert.True(t, rec.ExpiresAt.IsZero())
	assert.Zero(t, mr.TTL("lms:users:u5"))

	mr.SetTime(base.Add(2 * time.Second))
	rec, err = exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"username": "e"}, rec.Columns)

	applied, err = exec.Write(ctx, write.Intent{Key: key, Set: map[string]any{"username": "f"}, Predicate: write.MustExist})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, mr.HGet("lms:users:u5", "c:email"))
	assert.Empty(t, mr.HGet("lms:users:u5", "x:c:email"))
}

func TestRowOutlivedByPermanentColumn(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mr.SetTime(base)
	key := userKey("u6")

	_, err := exec.Write(ctx, write.Intent{Key: key, Set: map[string]any{"username": "g"}, Predicate: write.MustNotExist, TTL: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("lms:users:u6"))

	_, err = exec.Write(ctx, write.Intent{Key: key, Set: map[string]any{"email": "g@x"}, Predicate: write.MustExist})
	require.NoError(t, err)
	assert.Zero(t, mr.TTL("lms:users:u6"))

	mr.SetTime(base.Add(time.Hour))
	rec, err := exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"email": "g@x"}, rec.Columns)
}

func TestLargeProfileBatch(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := newTestExecutor(t)
	key := userKey("u7")

	_, err := exec.Write(ctx, write.Intent{Key: key, Set: map[string]any{"username": "big"}, Predicate: write.MustNotExist})
	require.NoError(t, err)

	payload := make(map[string]any, 3000)
	for i := 0; i < 3000; i++ {
		payload[fmt.Sprintf("f%04d", i)] = "v"
	}
	p, err := plan.New(plan.WithTouch(func() string { return "v1" })).Plan(nil, payload)
	require.NoError(t, err)
	applied, err := exec.Batch(ctx, p.Render(key, "info", time.Hour)...)
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Len(t, rec.Map, 3001)
	assert.Len(t, rec.MapExpiry, 3001)

	for k := range payload {
		payload[k] = nil
	}
	p, err = plan.New(plan.WithTouch(func() string { return "v2" })).Plan(nil, payload)
	require.NoError(t, err)
	applied, err = exec.Batch(ctx, p.Render(key, "info", 0)...)
	require.NoError(t, err)
	require.True(t, applied)

	rec, err = exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{plan.TouchField: "v2"}, rec.Map)
	assert.Empty(t, rec.MapExpiry)
}

func TestPlanBatch(t *testing.T) {
	ctx := context.Background()
	exec, _, _ := newTestExecutor(t)
	key := userKey("u1")

	_, err := exec.Write(ctx, write.Intent{
		Key:       key,
		Set:       map[string]any{"username": "u1"},
		MapColumn: "info",
		MapAssign: map[string]string{"avatar": "a.png", "image": "g"},
		Predicate: write.MustNotExist,
	})
	require.NoError(t, err)

	p, err := plan.New(plan.WithTouch(func() string { return "v1" })).
		Plan(nil, map[string]any{"bio": "hi", "avatar": nil})
	require.NoError(t, err)

	applied, err := exec.Batch(ctx, p.Render(key, "info", 0)...)
	require.NoError(t, err)
	assert.True(t, applied)

	rec, err := exec.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"bio": "hi", "image": "g", plan.TouchField: "v1"}, rec.Map)
	assert.Equal(t, "u1", rec.Columns["username"])
}

func TestBatchRejectedAppliesNothing(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)
	key := userKey("u2")

	applied, err := exec.Batch(ctx,
		write.Intent{Key: key, Set: map[string]any{"username": "b"}, Predicate: write.MustNotExist},
		write.Intent{Key: key, Set: map[string]any{"email": "b@x"}, Predicate: write.MustExist},
	)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, mr.Exists("lms:users:u2"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	exec, mr, _ := newTestExecutor(t)
	key := userKey("u3")

	_, err := exec.Write(ctx, write.Intent{Key: key, Set: map[string]any{"username": "c"}})
	require.NoError(t, err)

	applied, err := exec.Delete(ctx, key, write.MustExist)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, mr.Exists("lms:users:u3"))
}

func TestStoreDownIsTransient(t *testing.T) {
	exec, mr, _ := newTestExecutor(t)
	mr.Close()

	_, err := exec.Write(context.Background(), write.Intent{Key: userKey("x"), Set: map[string]any{"username": "x"}})
	require.Error(t, err)
	assert.True(t, lmserrors.IsTransient(err))
}
