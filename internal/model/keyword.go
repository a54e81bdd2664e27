// Package model holds the typed views of the metadata tables and their
// validation rules.
package model

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"time"

	"github.com/clipstash/clipstash/internal/meta"
)

// Table names.
const (
	TableKeyword = "keyword"
	TableTokens  = "tokens"
)

// PasswordPlaceholder stands in for "password set" in read responses.
// Settings updates that carry exactly this value leave the stored
// password untouched.
const PasswordPlaceholder = "********"

var wordRegex = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

// ExpireChoices is the allow-list of selectable expiry durations in
// seconds: 1h, 1d, 3d, 1w, 30d, 90d, 1y, 2y.
var ExpireChoices = []int64{
	3600,
	86400,
	259200,
	604800,
	2592000,
	7776000,
	31536000,
	63072000,
}

// ValidWord reports whether a word is a legal namespace identifier.
func ValidWord(word string) bool { return wordRegex.MatchString(word) }

// ValidExpireValue reports whether seconds is on the expiry allow-list.
// Zero means "never" and is always allowed.
func ValidExpireValue(seconds int64) bool {
	if seconds == 0 {
		return true
	}
	for _, v := range ExpireChoices {
		if v == seconds {
			return true
		}
	}
	return false
}

// Keyword is one namespace row. Content is not a column; it lives as an
// object in storage and is joined in at read time.
type Keyword struct {
	Word         string `json:"word"`
	ViewWord     string `json:"view_word"`
	Password     string `json:"-"`
	ExpireTime   int64  `json:"expire_time"`
	ExpireValue  int64  `json:"expire_value"`
	CreateTime   int64  `json:"create_time"`
	UpdateTime   int64  `json:"update_time"`
	LastViewTime int64  `json:"last_view_time"`
	ViewCount    int64  `json:"view_count"`
}

// HasPassword reports whether a password hash is stored.
func (k *Keyword) HasPassword() bool { return k.Password != "" }

// Expired reports whether the keyword is past its deadline at now
// (epoch millis). Zero expire_time means never.
func (k *Keyword) Expired(now int64) bool {
	return k.ExpireTime > 0 && k.ExpireTime <= now
}

// KeywordFromRow maps a metadata row onto a Keyword.
func KeywordFromRow(row meta.Row) *Keyword {
	if row == nil {
		return nil
	}
	return &Keyword{
		Word:         asString(row["word"]),
		ViewWord:     asString(row["view_word"]),
		Password:     asString(row["password"]),
		ExpireTime:   asInt64(row["expire_time"]),
		ExpireValue:  asInt64(row["expire_value"]),
		CreateTime:   asInt64(row["create_time"]),
		UpdateTime:   asInt64(row["update_time"]),
		LastViewTime: asInt64(row["last_view_time"]),
		ViewCount:    asInt64(row["view_count"]),
	}
}

// ToRow maps the Keyword onto a metadata row for insert.
func (k *Keyword) ToRow() meta.Row {
	return meta.Row{
		"word":           k.Word,
		"view_word":      k.ViewWord,
		"password":       k.Password,
		"expire_time":    k.ExpireTime,
		"expire_value":   k.ExpireValue,
		"create_time":    k.CreateTime,
		"update_time":    k.UpdateTime,
		"last_view_time": k.LastViewTime,
		"view_count":     k.ViewCount,
	}
}

// Token is one delegated download session row.
type Token struct {
	Token      string `json:"token"`
	Word       string `json:"-"`
	ViewWord   string `json:"-"`
	IPAddress  string `json:"-"`
	CreateTime int64  `json:"create_time"`
	ExpireTime int64  `json:"expire_time"`
}

// Expired reports whether the session token is past its deadline.
func (t *Token) Expired(now int64) bool { return t.ExpireTime <= now }

// TokenFromRow maps a metadata row onto a Token.
func TokenFromRow(row meta.Row) *Token {
	if row == nil {
		return nil
	}
	return &Token{
		Token:      asString(row["token"]),
		Word:       asString(row["word"]),
		ViewWord:   asString(row["view_word"]),
		IPAddress:  asString(row["ip_address"]),
		CreateTime: asInt64(row["create_time"]),
		ExpireTime: asInt64(row["expire_time"]),
	}
}

// ToRow maps the Token onto a metadata row for insert.
func (t *Token) ToRow() meta.Row {
	return meta.Row{
		"token":       t.Token,
		"word":        t.Word,
		"view_word":   t.ViewWord,
		"ip_address":  t.IPAddress,
		"create_time": t.CreateTime,
		"expire_time": t.ExpireTime,
	}
}

const viewWordAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewViewWord generates a random view secret (8 chars, lowercase
// alphanumeric).
func NewViewWord() string {
	b := make([]byte, 8)
	max := big.NewInt(int64(len(viewWordAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("model: crypto/rand unavailable: " + err.Error())
		}
		b[i] = viewWordAlphabet[n.Int64()]
	}
	return string(b)
}

// NowMillis returns the current time as epoch milliseconds, the unit
// used by every timestamp column.
func NowMillis() int64 { return time.Now().UnixMilli() }

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	default:
		return 0
	}
}
