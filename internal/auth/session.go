package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/clipstash/clipstash/internal/meta"
	"github.com/clipstash/clipstash/internal/model"
)

// SessionTTL is the lifetime of a delegated download token.
const SessionTTL = time.Hour

// Sessions manages delegated download tokens in the tokens table. A
// token is a capability handle: an opaque random string looked up by
// exact match together with its (word, view_word, ip) scope. It is
// never decrypted and grants scoped download access only.
type Sessions struct {
	store meta.Store
}

// NewSessions creates a session manager over the metadata store.
func NewSessions(store meta.Store) *Sessions {
	return &Sessions{store: store}
}

// Issue returns a live token for the scope, reusing an unexpired one
// when present so repeated requests from the same client do not grow
// the table.
func (s *Sessions) Issue(ctx context.Context, word, viewWord, ip string) (*model.Token, error) {
	now := model.NowMillis()

	row, err := s.store.First(ctx, model.TableTokens, []meta.Cond{
		{Key: "word", Op: "=", Value: word},
		{Key: "view_word", Op: "=", Value: viewWord},
		{Key: "ip_address", Op: "=", Value: ip},
		{Key: "expire_time", Op: ">", Value: now},
	})
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if row != nil {
		return model.TokenFromRow(row), nil
	}

	tok := &model.Token{
		Token:      newSessionToken(),
		Word:       word,
		ViewWord:   viewWord,
		IPAddress:  ip,
		CreateTime: now,
		ExpireTime: now + SessionTTL.Milliseconds(),
	}
	if err := s.store.Insert(ctx, model.TableTokens, tok.ToRow()); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return tok, nil
}

// Validate reports whether token grants download access for the scope.
// Unknown and expired tokens both come back false without error.
func (s *Sessions) Validate(ctx context.Context, token, word, viewWord, ip string) (bool, error) {
	if token == "" {
		return false, nil
	}
	row, err := s.store.First(ctx, model.TableTokens, []meta.Cond{
		{Key: "token", Op: "=", Value: token},
		{Key: "word", Op: "=", Value: word},
		{Key: "view_word", Op: "=", Value: viewWord},
		{Key: "ip_address", Op: "=", Value: ip},
	})
	if err != nil {
		return false, fmt.Errorf("lookup session: %w", err)
	}
	if row == nil {
		return false, nil
	}
	return !model.TokenFromRow(row).Expired(model.NowMillis()), nil
}

// PurgeExpired removes every token past its deadline and returns the
// count.
func (s *Sessions) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	return s.store.Delete(ctx, model.TableTokens, []meta.Cond{
		{Key: "expire_time", Op: "<=", Value: now},
	})
}

// 128-bit random hex handle.
func newSessionToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
