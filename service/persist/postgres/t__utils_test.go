package postgres

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	migrate "github.com/SplitFi/go-threads/db"
	"github.com/SplitFi/go-threads/docker"
	"github.com/SplitFi/go-threads/service/persist"
)

var testPost = persist.Target{ID: 1, Type: persist.TargetTypePost}

func setupTest(t *testing.T) (*assert.Assertions, *UserRepository, *CommentRepository, *pgxpool.Pool) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	r, err := docker.StartPostgres()
	if err != nil {
		t.Fatal(err)
	}

	hostAndPort := strings.Split(r.GetHostPort("5432/tcp"), ":")
	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		t.Fatal(err)
	}
	viper.Set("POSTGRES_USER", "postgres")
	viper.Set("POSTGRES_PASSWORD", "postgres")
	viper.Set("POSTGRES_DB", "postgres")

	db := MustCreateClient(WithHost(hostAndPort[0]), WithPort(port))
	pgx := NewPgxClient(WithHost(hostAndPort[0]), WithPort(port))

	m, err := migrate.RunMigration(db, "../../../db/migrations/threads")
	if err != nil {
		t.Fatalf("failed to seed db: %s", err)
	}
	t.Cleanup(func() {
		m.Close()
		pgx.Close()
		db.Close()
		r.Close()
	})

	users := NewUserRepository(db)
	for _, u := range []persist.UserSummary{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}} {
		if err := users.Upsert(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}

	return assert.New(t), users, NewCommentRepository(pgx), pgx
}
