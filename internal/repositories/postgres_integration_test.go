package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusfriends/backend/internal/auth"
	"github.com/campusfriends/backend/internal/models"
	"github.com/campusfriends/backend/internal/relationships"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		// Without a cockroach binary only the in-process tests run.
		fmt.Fprintf(os.Stderr, "start cockroach test server, skipping integration tests: %v\n", err)
		os.Exit(m.Run())
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)

	user := models.User{
		ID:        uuid.NewString(),
		Email:     "ada@campus.test",
		Username:  "ada",
		FullName:  "Ada Byron",
		Password:  "secret-hash",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	dup := user
	dup.ID = uuid.NewString()
	dup.Username = "ada2"
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when creating duplicate email, got %v", err)
	}

	fetched, err := repo.FindByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if fetched.ID != user.ID || fetched.Username != user.Username || fetched.Password != user.Password {
		t.Fatalf("unexpected user fetched: %+v", fetched)
	}

	byID, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if byID.Email != user.Email || byID.FullName != user.FullName {
		t.Fatalf("unexpected user fetched by id: %+v", byID)
	}

	updated := user
	updated.FullName = "Ada Lovelace"
	updated.UpdatedAt = time.Now().UTC().Add(time.Minute)
	if err := repo.Update(ctx, updated); err != nil {
		t.Fatalf("update user: %v", err)
	}

	fetched, err = repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("find after update: %v", err)
	}
	if fetched.FullName != updated.FullName {
		t.Fatalf("expected updated fields to persist, got %+v", fetched)
	}

	missing := updated
	missing.ID = uuid.NewString()
	missing.Email = "missing@campus.test"
	missing.Username = "missing"
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing user, got %v", err)
	}
	if _, err := repo.FindByID(ctx, missing.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound finding missing user, got %v", err)
	}
}

func TestPostgresRelationshipStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	sender := createTestUser(t, userRepo, "sender@campus.test")
	receiver := createTestUser(t, userRepo, "receiver@campus.test")

	svc := relationships.NewService(NewPostgresRelationshipStore(testPool), relationships.ServiceConfig{})

	request, err := svc.SendRequest(ctx, relationships.KindFriend, sender.ID, receiver.ID, "hello")
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if _, err := svc.SendRequest(ctx, relationships.KindFriend, sender.ID, receiver.ID, ""); !errors.Is(err, relationships.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	rel, err := svc.Status(ctx, relationships.KindFriend, receiver.ID, sender.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rel.Status != relationships.StatusRequestReceived || rel.RequestID != request.ID {
		t.Fatalf("expected request_received, got %+v", rel)
	}

	incoming, err := svc.ListPending(ctx, relationships.KindFriend, receiver.ID, relationships.DirectionIncoming, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(incoming) != 1 || incoming[0].Message != "hello" {
		t.Fatalf("unexpected pending list: %+v", incoming)
	}

	edge, err := svc.AcceptRequest(ctx, relationships.KindFriend, request.ID, receiver.ID)
	if err != nil {
		t.Fatalf("accept request: %v", err)
	}
	again, err := svc.AcceptRequest(ctx, relationships.KindFriend, request.ID, receiver.ID)
	if err != nil {
		t.Fatalf("retried accept: %v", err)
	}
	if again.ID != edge.ID {
		t.Fatalf("expected retried accept to return edge %s, got %s", edge.ID, again.ID)
	}

	for _, viewer := range []models.User{sender, receiver} {
		other := receiver.ID
		if viewer.ID == receiver.ID {
			other = sender.ID
		}
		rel, err := svc.Status(ctx, relationships.KindFriend, viewer.ID, other)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if rel.Status != relationships.StatusEstablished {
			t.Fatalf("expected established for %s, got %+v", viewer.Email, rel)
		}
	}

	count, err := svc.EdgeCount(ctx, relationships.KindFriend, sender.ID, receiver.ID)
	if err != nil {
		t.Fatalf("edge count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 edge, got %d", count)
	}

	if err := svc.RemoveEdge(ctx, relationships.KindFriend, receiver.ID, sender.ID, receiver.ID); err != nil {
		t.Fatalf("remove edge: %v", err)
	}
	if err := svc.RemoveEdge(ctx, relationships.KindFriend, receiver.ID, sender.ID, receiver.ID); !errors.Is(err, relationships.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
	if _, err := svc.SendRequest(ctx, relationships.KindFriend, sender.ID, receiver.ID, ""); err != nil {
		t.Fatalf("send after remove: %v", err)
	}
}

func TestPostgresRelationshipStore_DeclineAndCancel(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	sender := createTestUser(t, userRepo, "sender@campus.test")
	receiver := createTestUser(t, userRepo, "receiver@campus.test")

	svc := relationships.NewService(NewPostgresRelationshipStore(testPool), relationships.ServiceConfig{})
	kind := relationships.KindMessage

	first, err := svc.SendRequest(ctx, kind, sender.ID, receiver.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.DeclineRequest(ctx, kind, first.ID, sender.ID); !errors.Is(err, relationships.ErrPermission) {
		t.Fatalf("expected ErrPermission for sender decline, got %v", err)
	}
	if err := svc.DeclineRequest(ctx, kind, first.ID, receiver.ID); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if err := svc.DeclineRequest(ctx, kind, first.ID, receiver.ID); !errors.Is(err, relationships.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second decline, got %v", err)
	}

	second, err := svc.SendRequest(ctx, kind, sender.ID, receiver.ID, "")
	if err != nil {
		t.Fatalf("resend after decline: %v", err)
	}
	if err := svc.CancelRequest(ctx, kind, second.ID, sender.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	rel, err := svc.Status(ctx, kind, receiver.ID, sender.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rel.Status != relationships.StatusStrangers {
		t.Fatalf("expected strangers after cancel, got %+v", rel)
	}
}

func TestPostgresRelationshipStore_UnknownReceiver(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	sender := createTestUser(t, userRepo, "sender@campus.test")

	svc := relationships.NewService(NewPostgresRelationshipStore(testPool), relationships.ServiceConfig{})
	if _, err := svc.SendRequest(ctx, relationships.KindFriend, sender.ID, uuid.NewString(), ""); !errors.Is(err, relationships.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown receiver, got %v", err)
	}
}

func TestPostgresRelationshipStore_ConcurrentAccept(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	sender := createTestUser(t, userRepo, "sender@campus.test")
	receiver := createTestUser(t, userRepo, "receiver@campus.test")

	store := NewPostgresRelationshipStore(testPool)
	svc := relationships.NewService(store, relationships.ServiceConfig{})

	request, err := svc.SendRequest(ctx, relationships.KindFriend, sender.ID, receiver.ID, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	const devices = 4
	var wg sync.WaitGroup
	errs := make(chan error, devices)
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AcceptRequest(ctx, relationships.KindFriend, request.ID, receiver.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, relationships.ErrNotFound) {
			t.Fatalf("unexpected accept error: %v", err)
		}
	}

	count, err := store.CountEdges(ctx, relationships.KindFriend, sender.ID)
	if err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one edge, got %d", count)
	}
}

func TestPostgresRelationshipStore_ListEdgesPages(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	hub := createTestUser(t, userRepo, "hub@campus.test")
	svc := relationships.NewService(NewPostgresRelationshipStore(testPool), relationships.ServiceConfig{})

	var friends []string
	for i := 0; i < 3; i++ {
		friend := createTestUser(t, userRepo, fmt.Sprintf("friend%d@campus.test", i))
		request, err := svc.SendRequest(ctx, relationships.KindFriend, friend.ID, hub.ID, "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if _, err := svc.AcceptRequest(ctx, relationships.KindFriend, request.ID, hub.ID); err != nil {
			t.Fatalf("accept: %v", err)
		}
		friends = append(friends, friend.ID)
	}

	var seen []string
	after := ""
	for {
		page, err := svc.ListEdges(ctx, relationships.KindFriend, hub.ID, hub.ID, 2, after)
		if err != nil {
			t.Fatalf("list edges: %v", err)
		}
		for _, edge := range page.Edges {
			seen = append(seen, edge.Pair.Other(hub.ID))
		}
		if page.Next == "" {
			break
		}
		after = page.Next
	}

	if len(seen) != len(friends) {
		t.Fatalf("expected %d friends across pages, got %v", len(friends), seen)
	}
	// Order follows the database collation; pages must still never overlap.
	unique := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		if _, dup := unique[id]; dup {
			t.Fatalf("friend %s returned twice", id)
		}
		unique[id] = struct{}{}
	}
}

func TestPostgresSessionStore_SaveFindAndDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	userRepo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, userRepo, "owner@campus.test")

	store := NewPostgresSessionStore(testPool)
	expires := time.Now().UTC().Add(24 * time.Hour)
	session := auth.Session{
		RefreshToken: uuid.NewString(),
		UserID:       user.ID,
		ExpiresAt:    expires,
	}

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := store.Find(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if loaded.UserID != session.UserID || !timesClose(loaded.ExpiresAt, expires.UTC(), time.Millisecond) {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}

	stale := auth.Session{RefreshToken: uuid.NewString(), UserID: user.ID, ExpiresAt: time.Now().UTC().Add(-time.Hour)}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("save stale session: %v", err)
	}
	purged, err := store.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("purge expired: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged session, got %d", purged)
	}

	if err := store.Delete(ctx, session.RefreshToken); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.Find(ctx, session.RefreshToken); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, session.RefreshToken); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	if testPool == nil {
		t.Skip("cockroach test server unavailable")
	}
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE friend_requests, friendships, message_requests, message_grants, sessions, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, email string) models.User {
	t.Helper()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Username:  email,
		Password:  "password-hash",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
