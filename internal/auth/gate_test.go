package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/meta/metatest"
	"github.com/clipstash/clipstash/internal/model"
)

// recordingDeleter removes the keyword row and remembers the call.
type recordingDeleter struct {
	store   *metatest.MemStore
	deleted []string
}

func (d *recordingDeleter) DeleteKeyword(ctx context.Context, kw *model.Keyword) error {
	d.deleted = append(d.deleted, kw.Word)
	_, err := d.store.Delete(ctx, model.TableKeyword, []meta.Cond{
		{Key: "word", Op: "=", Value: kw.Word},
	})
	return err
}

type gateFixture struct {
	store   *metatest.MemStore
	cipher  *TokenCipher
	deleter *recordingDeleter
	gate    *Gate
	now     int64
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	store := metatest.NewMemStore()
	cipher, err := NewTokenCipher("test-secret")
	require.NoError(t, err)
	deleter := &recordingDeleter{store: store}
	gate := NewGate(store, cipher, deleter)

	now := time.Now().UnixMilli()
	gate.now = func() int64 { return now }
	return &gateFixture{store: store, cipher: cipher, deleter: deleter, gate: gate, now: now}
}

func (f *gateFixture) addKeyword(t *testing.T, kw *model.Keyword) {
	t.Helper()
	require.NoError(t, f.store.Insert(context.Background(), model.TableKeyword, kw.ToRow()))
}

func TestGateRejectsMissingIdentity(t *testing.T) {
	f := newGateFixture(t)

	res, err := f.gate.Check(context.Background(), &Request{Method: http.MethodGet})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestGateViewModeRejectsWrites(t *testing.T) {
	f := newGateFixture(t)
	f.addKeyword(t, &model.Keyword{Word: "demo01", ViewWord: "abc123"})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		res, err := f.gate.Check(context.Background(), &Request{ViewWord: "abc123", Method: method})
		require.NoError(t, err)
		assert.False(t, res.Authorized, method)
		assert.Equal(t, http.StatusForbidden, res.Status, method)
	}

	// Reads still pass.
	res, err := f.gate.Check(context.Background(), &Request{ViewWord: "abc123", Method: http.MethodGet})
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.True(t, res.ViewMode)
}

func TestGateViewWriteDeniedEvenWithPassword(t *testing.T) {
	f := newGateFixture(t)
	hash := NewPasswordHasher("test-secret").Hash("pw", "demo01")
	f.addKeyword(t, &model.Keyword{Word: "demo01", ViewWord: "abc123", Password: hash})

	bearer, err := f.cipher.MintBearer("demo01", true, f.now)
	require.NoError(t, err)

	res, err := f.gate.Check(context.Background(), &Request{
		ViewWord: "abc123", Method: http.MethodDelete, Bearer: bearer,
	})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, http.StatusForbidden, res.Status)
}

func TestGateEditModeAbsentMeansCreating(t *testing.T) {
	f := newGateFixture(t)

	res, err := f.gate.Check(context.Background(), &Request{Word: "newword", Method: http.MethodPost})
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.True(t, res.Creating)
	assert.Nil(t, res.Keyword)
}

func TestGateViewModeAbsentIsNotFound(t *testing.T) {
	f := newGateFixture(t)

	res, err := f.gate.Check(context.Background(), &Request{ViewWord: "nosuch", Method: http.MethodGet})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestGateOpenAccessMintsCookie(t *testing.T) {
	f := newGateFixture(t)
	f.addKeyword(t, &model.Keyword{Word: "demo01", ViewWord: "abc123"})

	res, err := f.gate.Check(context.Background(), &Request{Word: "demo01", Method: http.MethodGet})
	require.NoError(t, err)
	require.True(t, res.Authorized)
	require.NotEmpty(t, res.SetAuthCookie)
	assert.NoError(t, f.cipher.CheckBearer(res.SetAuthCookie, "demo01", true, f.now))

	// A request that already carries a bearer does not get a new one.
	res, err = f.gate.Check(context.Background(), &Request{
		Word: "demo01", Method: http.MethodGet, Bearer: res.SetAuthCookie,
	})
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.Empty(t, res.SetAuthCookie)
}

func TestGatePasswordRequiresBearer(t *testing.T) {
	f := newGateFixture(t)
	hash := NewPasswordHasher("test-secret").Hash("pw", "demo01")
	f.addKeyword(t, &model.Keyword{Word: "demo01", ViewWord: "abc123", Password: hash})

	// No bearer: denied with cookie-clear.
	res, err := f.gate.Check(context.Background(), &Request{Word: "demo01", Method: http.MethodGet})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.True(t, res.ClearAuthCookie)

	// Valid bearer: authorized.
	bearer, err := f.cipher.MintBearer("demo01", true, f.now)
	require.NoError(t, err)
	res, err = f.gate.Check(context.Background(), &Request{
		Word: "demo01", Method: http.MethodGet, Bearer: bearer,
	})
	require.NoError(t, err)
	assert.True(t, res.Authorized)

	// Bearer for another word: denied.
	other, err := f.cipher.MintBearer("otherword", true, f.now)
	require.NoError(t, err)
	res, err = f.gate.Check(context.Background(), &Request{
		Word: "demo01", Method: http.MethodGet, Bearer: other,
	})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.True(t, res.ClearAuthCookie)
}

func TestGateEditModeRejectsViewMintedBearer(t *testing.T) {
	f := newGateFixture(t)
	hash := NewPasswordHasher("test-secret").Hash("pw", "demo01")
	f.addKeyword(t, &model.Keyword{Word: "demo01", ViewWord: "abc123", Password: hash})

	viewBearer, err := f.cipher.MintBearer("demo01", false, f.now)
	require.NoError(t, err)

	res, err := f.gate.Check(context.Background(), &Request{
		Word: "demo01", Method: http.MethodGet, Bearer: viewBearer,
	})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.True(t, res.ClearAuthCookie)

	// The same cookie still unlocks view-mode reads.
	res, err = f.gate.Check(context.Background(), &Request{
		ViewWord: "abc123", Method: http.MethodGet, Bearer: viewBearer,
	})
	require.NoError(t, err)
	assert.True(t, res.Authorized)
}

func TestGateExpiredKeywordIsCascadedThenAbsent(t *testing.T) {
	f := newGateFixture(t)
	f.addKeyword(t, &model.Keyword{
		Word: "demo01", ViewWord: "abc123",
		ExpireTime: f.now - 1000, ExpireValue: 3600,
	})

	// Edit path: the expired row is removed and the request lands in
	// the creating state.
	res, err := f.gate.Check(context.Background(), &Request{Word: "demo01", Method: http.MethodGet})
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.True(t, res.Creating)
	assert.Equal(t, []string{"demo01"}, f.deleter.deleted)

	// Row is gone.
	row, err := f.store.First(context.Background(), model.TableKeyword, []meta.Cond{
		{Key: "word", Op: "=", Value: "demo01"},
	})
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestGateExpiredKeywordViewModeIsNotFound(t *testing.T) {
	f := newGateFixture(t)
	f.addKeyword(t, &model.Keyword{
		Word: "demo01", ViewWord: "abc123",
		ExpireTime: f.now - 1000, ExpireValue: 3600,
	})

	res, err := f.gate.Check(context.Background(), &Request{ViewWord: "abc123", Method: http.MethodGet})
	require.NoError(t, err)
	assert.False(t, res.Authorized)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, []string{"demo01"}, f.deleter.deleted)
}

func TestGateNeverExpiresZeroExpireTime(t *testing.T) {
	f := newGateFixture(t)
	f.addKeyword(t, &model.Keyword{Word: "demo01", ViewWord: "abc123", ExpireTime: 0})

	res, err := f.gate.Check(context.Background(), &Request{Word: "demo01", Method: http.MethodGet})
	require.NoError(t, err)
	assert.True(t, res.Authorized)
	assert.Empty(t, f.deleter.deleted)
}
