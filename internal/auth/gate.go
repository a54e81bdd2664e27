package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/metrics"
	"github.com/clipstash/clipstash/internal/model"
)

// Deleter cascades a keyword removal: content object, file folder,
// metadata row and session tokens. Implemented by the reaper; injected
// here so the gate can expire rows inline without owning blob logic.
type Deleter interface {
	DeleteKeyword(ctx context.Context, kw *model.Keyword) error
}

// Request is the per-request identity snapshot built by the HTTP
// boundary. Exactly one of Word and ViewWord must be set.
type Request struct {
	Word     string
	ViewWord string
	Method   string
	Bearer   string // auth cookie value, empty when absent
}

// Result carries the gate outcome plus cookie intents. Handlers never
// touch the transport; the boundary applies SetAuthCookie and
// ClearAuthCookie after the gate returns.
type Result struct {
	Keyword    *model.Keyword
	ViewMode   bool
	Creating   bool // edit mode, keyword does not exist yet
	Authorized bool

	// Denial details, meaningful when Authorized is false.
	Status int
	Msg    string

	SetAuthCookie   string // non-empty: mint this bearer cookie
	ClearAuthCookie bool
}

func deny(status int, msg string, viewMode bool) *Result {
	return &Result{ViewMode: viewMode, Status: status, Msg: msg}
}

var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Gate is the per-request authentication state machine. It resolves
// edit-vs-view identity, loads the keyword, expires it inline when
// overdue, then authorizes via bearer cookie or open access. It holds
// no per-request state of its own.
type Gate struct {
	store   meta.Store
	cipher  *TokenCipher
	deleter Deleter
	now     func() int64
}

// NewGate wires the gate's collaborators.
func NewGate(store meta.Store, cipher *TokenCipher, deleter Deleter) *Gate {
	return &Gate{store: store, cipher: cipher, deleter: deleter, now: model.NowMillis}
}

// Check runs the state machine. The error return is reserved for
// infrastructure failures; every expected denial comes back as a
// Result with Authorized=false.
func (g *Gate) Check(ctx context.Context, req *Request) (*Result, error) {
	viewMode := req.ViewWord != ""
	if (req.Word == "") == (req.ViewWord == "") {
		return deny(http.StatusBadRequest, "cannot resolve identity", viewMode), nil
	}

	// View secrets never authorize writes, regardless of password
	// state, so reject before touching the row at all.
	if viewMode && mutatingMethods[req.Method] {
		metrics.RecordAuthAttempt(false)
		return deny(http.StatusForbidden, "read-only access", true), nil
	}

	kw, err := g.resolve(ctx, req, viewMode)
	if err != nil {
		return nil, err
	}

	if kw != nil && kw.Expired(g.now()) {
		if err := g.deleter.DeleteKeyword(ctx, kw); err != nil {
			return nil, fmt.Errorf("expire keyword: %w", err)
		}
		kw = nil
	}

	if kw == nil {
		if viewMode {
			return deny(http.StatusNotFound, "content not found", true), nil
		}
		// Nothing to authenticate against yet; the handler creates
		// the row on first write.
		return &Result{Creating: true, Authorized: true}, nil
	}

	res := &Result{Keyword: kw, ViewMode: viewMode, Authorized: true}

	if !kw.HasPassword() {
		// Open access. Seed a session cookie so later requests can
		// skip straight through the bearer path.
		if req.Bearer == "" {
			cookie, err := g.cipher.MintBearer(kw.Word, !viewMode, g.now())
			if err != nil {
				return nil, fmt.Errorf("mint bearer: %w", err)
			}
			res.SetAuthCookie = cookie
		}
		return res, nil
	}

	if err := g.cipher.CheckBearer(req.Bearer, kw.Word, !viewMode, g.now()); err != nil {
		metrics.RecordAuthAttempt(false)
		d := deny(http.StatusUnauthorized, "password required", viewMode)
		d.ClearAuthCookie = true
		return d, nil
	}
	metrics.RecordAuthAttempt(true)
	return res, nil
}

func (g *Gate) resolve(ctx context.Context, req *Request, viewMode bool) (*model.Keyword, error) {
	var where []meta.Cond
	if viewMode {
		where = []meta.Cond{{Key: "view_word", Op: "=", Value: req.ViewWord}}
	} else {
		where = []meta.Cond{{Key: "word", Op: "=", Value: req.Word}}
	}
	row, err := g.store.First(ctx, model.TableKeyword, where)
	if err != nil {
		return nil, fmt.Errorf("resolve keyword: %w", err)
	}
	return model.KeywordFromRow(row), nil
}
