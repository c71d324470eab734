//go:build integration

package service

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/util"
	"eduflex_backend/pkg/database"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// 运行: go test -tags integration ./internal/service/...
var (
	pgDB    *gorm.DB
	redisDB *redis.Client
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("eduflex"),
		postgres.WithUsername("eduflex"),
		postgres.WithPassword("eduflex"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}

	code := func() int {
		defer pg.Terminate(ctx)
		defer rc.Terminate(ctx)

		dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			log.Printf("postgres dsn: %v", err)
			return 1
		}
		pgDB, err = database.InitDB(&config.DatabaseConfig{Driver: util.DBDriverPostgres, DSN: dsn, MaxOpen: 20, MaxIdle: 5, LogLevel: "silent"})
		if err != nil {
			log.Printf("open postgres: %v", err)
			return 1
		}
		if err := database.Migrate(pgDB); err != nil {
			log.Printf("migrate: %v", err)
			return 1
		}

		host, err := rc.Host(ctx)
		if err != nil {
			log.Printf("redis host: %v", err)
			return 1
		}
		port, err := rc.MappedPort(ctx, "6379/tcp")
		if err != nil {
			log.Printf("redis port: %v", err)
			return 1
		}
		redisDB = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
		defer redisDB.Close()

		return m.Run()
	}()
	os.Exit(code)
}

func newIntegrationEnv(t *testing.T, mutate ...func(p *config.Policy)) *testEnv {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, pgDB.Exec(`TRUNCATE users, courses, modules, topics, course_enrollments, tests, questions, answers, test_attempts, topic_knowledge RESTART IDENTITY CASCADE`).Error)
	require.NoError(t, redisDB.FlushDB(ctx).Err())
	return newTestEnvWith(t, pgDB, redisDB, mutate...)
}

func TestIntegrationConcurrentSubmissions(t *testing.T) {
	const n = 10
	env := newIntegrationEnv(t, func(p *config.Policy) {
		p.Scoring.MaxAttempts = 0
		p.Scoring.BlockAfterPerfect = false
		p.Scoring.LockWait = 10 * time.Second
	})
	author := env.user(t, model.Teacher)
	student := env.user(t, model.Student)
	course := env.course(t, author)
	env.enroll(t, course.ID, student)
	m := env.module(t, course.ID, 0)
	topic := env.topic(t, m.ID)
	tst := env.test(t, inModule(m), qspec{topic: topic, points: 2}, qspec{topic: topic, points: 1})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ordinals []int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			answers := allRight(tst)
			if i%2 == 1 {
				answers[tst.Questions[0].ID] = wrong(tst.Questions[0])
			}
			res, err := env.scoring.Submit(context.Background(), student, tst.ID, submit(answers))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ordinals = append(ordinals, res.Ordinal)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Ints(ordinals)
	require.Len(t, ordinals, n)
	for i, o := range ordinals {
		assert.Equal(t, i+1, o)
	}

	row, err := env.knowledge.Get(context.Background(), student.UserID, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, n, row.Observations)
	assert.Equal(t, float64(100), row.Knowledge)
}

func TestIntegrationRedisLocker(t *testing.T) {
	newIntegrationEnv(t)
	l := NewAttemptLocker(redisDB)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "attempt:1:1", time.Second, 100*time.Millisecond)
	require.NoError(t, err)

	_, err = l.Lock(ctx, "attempt:1:1", time.Second, 100*time.Millisecond)
	assert.True(t, errors.Is(err, util.ErrBusy))

	unlock()
	again, err := l.Lock(ctx, "attempt:1:1", time.Second, 100*time.Millisecond)
	require.NoError(t, err)
	again()

	// ttl frees a lock whose owner disappeared
	_, err = l.Lock(ctx, "attempt:2:2", 200*time.Millisecond, 100*time.Millisecond)
	require.NoError(t, err)
	next, err := l.Lock(ctx, "attempt:2:2", time.Second, time.Second)
	require.NoError(t, err)
	next()
}

func TestIntegrationKnowledgeCacheInvalidation(t *testing.T) {
	env := newIntegrationEnv(t, func(p *config.Policy) { p.Scoring.BlockAfterPerfect = false })
	ctx := context.Background()
	author := env.user(t, model.Teacher)
	student := env.user(t, model.Student)
	course := env.course(t, author)
	env.enroll(t, course.ID, student)
	m := env.module(t, course.ID, 0)
	topic := env.topic(t, m.ID)
	tst := env.test(t, inModule(m), qspec{topic: topic, points: 1})

	before, err := env.aggregation.RecomputeModuleKnowledge(ctx, student.UserID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), before)

	_, err = env.scoring.Submit(ctx, student, tst.ID, submit(allRight(tst)))
	require.NoError(t, err)

	// a submission bumps the version, so the stale cached 0 is never served
	after, err := env.aggregation.RecomputeModuleKnowledge(ctx, student.UserID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), after)

	cache := NewKnowledgeCache(redisDB)
	v, err := cache.Version(ctx, student.UserID)
	require.NoError(t, err)
	latest, err := env.attempts.LatestID(ctx, student.UserID)
	require.NoError(t, err)
	cached, ok := cache.Get(ctx, student.UserID, CacheStamp(v, latest), "module", m.ID)
	require.True(t, ok)
	assert.Equal(t, float64(100), cached)
}
