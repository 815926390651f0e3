// Package docker starts throwaway dependencies for integration tests.
package docker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ory/dockertest"
	_ "github.com/lib/pq"
)

const containerTTL = 10 * 60

// StartPostgres runs a postgres container and waits until it accepts connections.
// The caller must Close the returned resource.
func StartPostgres() (*dockertest.Resource, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, err
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14",
		Env:        []string{"POSTGRES_USER=postgres", "POSTGRES_PASSWORD=postgres", "POSTGRES_DB=postgres"},
	})
	if err != nil {
		return nil, err
	}
	resource.Expire(containerTTL)

	err = pool.Retry(func() error {
		db, err := sql.Open("postgres", fmt.Sprintf("postgres://postgres:postgres@%s/postgres?sslmode=disable", resource.GetHostPort("5432/tcp")))
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	})
	if err != nil {
		resource.Close()
		return nil, err
	}
	return resource, nil
}

// StartRedis runs a redis container and waits until it answers PING.
func StartRedis() (*dockertest.Resource, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, err
	}
	pool.MaxWait = time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{Repository: "redis", Tag: "7"})
	if err != nil {
		return nil, err
	}
	resource.Expire(containerTTL)

	err = pool.Retry(func() error {
		client := redis.NewClient(&redis.Options{Addr: resource.GetHostPort("6379/tcp")})
		defer client.Close()
		return client.Ping(context.Background()).Err()
	})
	if err != nil {
		resource.Close()
		return nil, err
	}
	return resource, nil
}
