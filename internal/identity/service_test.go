package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/database/memory"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

var app = &meta.Record{
	Hostname: "shop.example.com",
	Secret:   "s",
	Database: "shop",
	Providers: map[string]meta.ProviderConfig{
		"github": {ClientID: "id", ClientSecret: "secret", Enabled: true},
		"google": {ClientID: "id", ClientSecret: "secret", Enabled: false},
	},
}

func TestLinkOrCreate_Idempotent(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t))
	h := memory.New().Open("shop")
	ctx := context.Background()
	cred := &Credential{Provider: "github", ExternalID: "42", DisplayName: "Octo", Email: "o@example.com"}

	first, err := svc.LinkOrCreate(ctx, app, h, cred)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.Equal(t, "Octo", first.Credentials["github"].DisplayName)

	second, err := svc.LinkOrCreate(ctx, app, h, cred)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, h.UserCount())

	other, err := svc.LinkOrCreate(ctx, app, h, &Credential{Provider: "github", ExternalID: "43"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestLinkOrCreate_StoresProviderProfile(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t))
	h := memory.New().Open("shop")
	ctx := context.Background()

	u, err := svc.LinkOrCreate(ctx, app, h, &Credential{
		Provider:   "github",
		ExternalID: "42",
		Raw:        map[string]any{"login": "octo", "id": float64(42)},
	})
	require.NoError(t, err)

	stored, err := h.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, database.Profile{"login": "octo", "id": float64(42)}, stored.Credentials["github"].Profile)
}

func TestLinkOrCreate_ConcurrentFirstLogins(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t))
	h := memory.New().Open("shop")
	ctx := context.Background()

	const logins = 50
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]int)
	)
	for i := 0; i < logins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := svc.LinkOrCreate(ctx, app, h, &Credential{Provider: "github", ExternalID: "race"})
			if err != nil {
				t.Errorf("link: %v", err)
				return
			}
			mu.Lock()
			ids[u.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, 1, "every login must see the same user")
	require.Equal(t, 1, h.UserCount())
}

func TestLinkOrCreate_ProviderDisabled(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t))
	h := memory.New().Open("shop")

	for _, provider := range []string{"google", "twitter"} {
		_, err := svc.LinkOrCreate(context.Background(), app, h, &Credential{Provider: provider, ExternalID: "1"})
		var pde *ProviderDisabledError
		require.True(t, errors.As(err, &pde), "provider %s: %v", provider, err)
		require.Equal(t, CodeProviderDisabled, pde.Code())
		require.Equal(t, provider, pde.Provider)
	}
	require.Equal(t, 0, h.UserCount())
}

func TestLinkOrCreate_StorageError(t *testing.T) {
	svc := NewService(zaptest.NewLogger(t))
	h := memory.New().Open("shop")
	_ = h.Close()

	_, err := svc.LinkOrCreate(context.Background(), app, h, &Credential{Provider: "github", ExternalID: "1"})
	require.ErrorIs(t, err, database.ErrClosed)
}

func TestProviders(t *testing.T) {
	set := NewProviders(&Simulated{ProviderName: "google"}, &Simulated{ProviderName: "github"})
	require.Equal(t, []string{"github", "google"}, set.Names())
	p, ok := set.Get("github")
	require.True(t, ok)
	require.Equal(t, "github", p.Name())
	_, ok = set.Get("twitter")
	require.False(t, ok)
}
