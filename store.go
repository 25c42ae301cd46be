package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// jobStore persists job records so status survives across workers and,
// when redis is reachable, across restarts. Redis is optional: when the
// ping fails at startup the store runs on the in-memory map alone.
type jobStore struct {
	client *redis.Client
	ttl    time.Duration

	mu   sync.RWMutex
	jobs map[string]Job
}

func newJobStore(ctx context.Context, addr, password string, db int, ttl time.Duration) *jobStore {
	s := &jobStore{
		ttl:  ttl,
		jobs: make(map[string]Job),
	}
	if addr == "" {
		return s
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("redis not available, using in-memory job records: %v", err)
		return s
	}
	log.Println("redis connected")
	s.client = client
	return s
}

func (s *jobStore) save(ctx context.Context, job *Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = *job
	s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, jobKey(job.ID), data, s.ttl).Err()
}

func (s *jobStore) get(ctx context.Context, id string) (Job, bool) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if ok {
		return job, true
	}

	if s.client == nil {
		return Job{}, false
	}
	val, err := s.client.Get(ctx, jobKey(id)).Result()
	if err != nil {
		return Job{}, false
	}
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return Job{}, false
	}
	return job, true
}

func (s *jobStore) delete(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()

	if s.client != nil {
		s.client.Del(ctx, jobKey(id))
	}
}

func jobKey(id string) string { return fmt.Sprintf("job:%s", id) }
