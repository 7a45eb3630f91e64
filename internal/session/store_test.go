package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/hash/sha256"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewStore(t.TempDir(), sha256.New(), clock, zap.NewNop())
	require.NoError(t, err)
	return store, clock
}

func validCookies(expires float64) []domain.Cookie {
	return []domain.Cookie{
		{Name: "_m_h5_tk", Value: "tk", Domain: ".goofish.com", Path: "/", Expires: expires},
		{Name: "cookie2", Value: "c2", Domain: ".taobao.com", Path: "/", Expires: expires},
		{Name: "sgcookie", Value: "sg", Domain: ".goofish.com", Path: "/", Expires: expires},
	}
}

func TestCanonicalizeCookiesIdempotent(t *testing.T) {
	in := []domain.Cookie{
		{Name: "b", Domain: ".goofish.com", Path: "/", SameSite: "no_restriction"},
		{Name: "a", Domain: ".taobao.com", Path: "/", Expires: 5},
		{Name: "a", Domain: ".taobao.com", Path: "/", Expires: 9},
		{Name: "tracker", Domain: ".ads.example.com", Path: "/"},
	}
	once := CanonicalizeCookies(in)
	twice := CanonicalizeCookies(once)
	require.Equal(t, once, twice)
	require.Len(t, once, 2)
	require.Equal(t, "a", once[0].Name)
	require.Equal(t, float64(9), once[0].Expires, "latest expiry wins")
	require.Equal(t, "None", once[1].SameSite)
}

func TestCanonicalizeCookiesDefaultsSameSiteLax(t *testing.T) {
	out := CanonicalizeCookies([]domain.Cookie{{Name: "x", Domain: "goofish.com", Path: "/"}})
	require.Len(t, out, 1)
	require.Equal(t, "Lax", out[0].SameSite)
}

func TestFingerprintIgnoresOrdering(t *testing.T) {
	h := sha256.New()
	a := validCookies(0)
	b := []domain.Cookie{a[2], a[0], a[1]}
	fa, err := Fingerprint(h, a)
	require.NoError(t, err)
	fb, err := Fingerprint(h, b)
	require.NoError(t, err)
	require.Equal(t, fa, fb)
}

func TestCookiesValidAt(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	require.True(t, CookiesValidAt(validCookies(0), now), "expires=0 means session-scoped")
	require.True(t, CookiesValidAt(validCookies(2_000_000), now))
	require.False(t, CookiesValidAt(validCookies(500_000), now), "expired required cookie")
	missing := validCookies(0)[:2]
	require.False(t, CookiesValidAt(missing, now))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	snap := domain.AccountSnapshot{
		DisplayName: "acc1",
		Cookies:     CanonicalizeCookies(validCookies(0)),
	}
	require.NoError(t, store.Save("acc1", snap))
	got, err := store.Load("acc1")
	require.NoError(t, err)
	require.Equal(t, snap.DisplayName, got.DisplayName)
	require.Equal(t, snap.Cookies, got.Cookies)
}

func TestLoadMissingReturnsEmpty(t *testing.T) {
	store, _ := newTestStore(t)
	snap, err := store.Load("ghost")
	require.NoError(t, err)
	require.Empty(t, snap.Cookies)
}

func TestListSkipsReservedEntries(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save("acc1", domain.AccountSnapshot{}))
	require.NoError(t, store.Save("_active", domain.AccountSnapshot{}))
	names, err := store.List()
	require.NoError(t, err)
	require.Equal(t, []string{"acc1"}, names)
}

func TestSelectRandomValid(t *testing.T) {
	store, clock := newTestStore(t)
	clock.now = time.Unix(1_000_000, 0)
	require.NoError(t, store.Save("good", domain.AccountSnapshot{Cookies: validCookies(2_000_000)}))
	require.NoError(t, store.Save("stale", domain.AccountSnapshot{Cookies: validCookies(1)}))

	name, err := store.SelectRandomValid()
	require.NoError(t, err)
	require.Equal(t, "good", name)
}

func TestSelectRandomValidNone(t *testing.T) {
	store, _ := newTestStore(t)
	name, err := store.SelectRandomValid()
	require.NoError(t, err)
	require.Empty(t, name)
}

func TestRecordRiskBoundsHistory(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save("acc1", domain.AccountSnapshot{}))
	for i := 0; i < riskHistoryLimit+5; i++ {
		require.NoError(t, store.RecordRisk("acc1", "BAXIA_DIALOG", "Test"))
	}
	snap, err := store.Load("acc1")
	require.NoError(t, err)
	require.Equal(t, riskHistoryLimit+5, snap.RiskControlCount)
	require.Len(t, snap.RiskControlHistory, riskHistoryLimit)
	require.Equal(t, "BAXIA_DIALOG", snap.RiskControlHistory[0].Reason)
	require.Equal(t, "Test", snap.RiskControlHistory[0].TaskName)
}

func TestRefreshCookiesSkipsUnchanged(t *testing.T) {
	store, clock := newTestStore(t)
	cookies := validCookies(0)
	require.NoError(t, store.Save("acc1", domain.AccountSnapshot{Cookies: CanonicalizeCookies(cookies)}))

	wrote, err := store.RefreshCookies("acc1", cookies)
	require.NoError(t, err)
	require.False(t, wrote)
	snap, err := store.Load("acc1")
	require.NoError(t, err)
	require.Empty(t, snap.LastCookieRefreshAt)

	changed := validCookies(0)
	changed[0].Value = "rotated"
	clock.now = clock.now.Add(time.Minute)
	wrote, err = store.RefreshCookies("acc1", changed)
	require.NoError(t, err)
	require.True(t, wrote)
	snap, err = store.Load("acc1")
	require.NoError(t, err)
	require.NotEmpty(t, snap.LastCookieRefreshAt)
}
