package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

func TestReconnectSeesEarlierWrites(t *testing.T) {
	a := New()
	a.Open("admin").PutApp(meta.Record{Hostname: "a.example.com", Database: "a"})

	h, err := a.Connect(context.Background(), "admin")
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Query(context.Background(), h, database.Request{Op: database.OpFindApp, Hostname: "a.example.com"})
	if err != nil || res.App.Database != "a" {
		t.Fatalf("find app = %+v, %v", res.App, err)
	}

	// Separate database, separate store.
	other := a.Open("other")
	if _, err := other.FindApp(context.Background(), "a.example.com"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestClosedHandle(t *testing.T) {
	h := New().Open("x")
	_ = h.Close()
	if !h.Closed() {
		t.Fatal("Closed() = false")
	}
	if err := h.Ping(context.Background()); !errors.Is(err, database.ErrClosed) {
		t.Fatalf("ping on closed handle: %v", err)
	}
}

func TestForeignHandleRejected(t *testing.T) {
	a := New()
	if _, err := a.Query(context.Background(), fakeHandle{}, database.Request{Op: database.OpPing}); err == nil {
		t.Fatal("foreign handle accepted")
	}
}

func TestInsertUser_CredentialUniqueUnderRace(t *testing.T) {
	h := New().Open("t")
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := h.InsertUser(ctx, &database.User{
				ID:          fmt.Sprintf("u%d", i),
				Credentials: map[string]database.Credential{"github": {ID: "7"}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, database.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 || conflicts != 31 {
		t.Fatalf("winners=%d conflicts=%d", winners, conflicts)
	}
	if h.UserCount() != 1 {
		t.Fatalf("user count = %d", h.UserCount())
	}

	u, err := h.FindUserByCredential(ctx, "github", "7")
	if err != nil {
		t.Fatal(err)
	}
	// Returned users are copies.
	u.Credentials["github"] = database.Credential{ID: "mutated"}
	again, _ := h.GetUser(ctx, u.ID)
	if again.Credentials["github"].ID != "7" {
		t.Fatal("store mutated through returned user")
	}
}

type fakeHandle struct{ database.Handle }
