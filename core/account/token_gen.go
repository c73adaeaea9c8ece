package account

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hilcoe/rms/core"
)

// Password reset tokens are "<b32 hours since 2001>-<signature>". The signature covers the account's
// password hash and last login so a token stops working once the password changes or the account logs in.

var (
	resetSalt = []byte("hilcoe.rms.core.account.token_gen")
	NowFunc   = time.Now // mockable

	// errors
	ErrResetTokenInvalid = core.NewError(core.ReasonTokenInvalid, "invalid password reset token")
	ErrResetTokenExpired = core.NewError(core.ReasonTokenExpired, "password reset token expired")

	tsEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
	tsRef      = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// EncodeUID base64 encodes given Account ID
func EncodeUID(acc Account) string {
	return base64.RawURLEncoding.EncodeToString([]byte(acc.ID))
}

// DecodeUID base64 decodes given UID
func DecodeUID(uid string) (string, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", ErrResetTokenInvalid
	}
	return string(idBytes), nil
}

type tokenGenerator struct {
	secret  string
	timeout time.Duration
}

// MakeToken generates a password reset token for a given Account.
func (g tokenGenerator) MakeToken(acc Account) string {
	return g.makeTokenWithTimestamp(acc, hoursSince2001(NowFunc()))
}

// VerifyToken checks that a password reset token for a given Account is valid.
func (g tokenGenerator) VerifyToken(acc Account, token string) error {
	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return ErrResetTokenInvalid
	}

	data, err := tsEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrResetTokenInvalid
	}
	ts, err := strconv.Atoi(string(data))
	if err != nil {
		return ErrResetTokenInvalid
	}

	// check that token has not been tampered with
	if subtle.ConstantTimeCompare([]byte(g.makeTokenWithTimestamp(acc, ts)), []byte(token)) == 0 {
		return ErrResetTokenInvalid
	}

	if time.Duration(hoursSince2001(NowFunc())-ts)*time.Hour > g.timeout {
		return ErrResetTokenExpired
	}
	return nil
}

func (g tokenGenerator) makeTokenWithTimestamp(acc Account, ts int) string {
	tsB32 := tsEncoding.EncodeToString([]byte(strconv.Itoa(ts)))
	return fmt.Sprintf("%s-%s", tsB32, g.sign(hashValue(acc, ts)))
}

func (g tokenGenerator) sign(val []byte) string {
	key := sha256.Sum256(append(append([]byte{}, resetSalt...), g.secret...))
	h := hmac.New(sha256.New, key[:])
	_, _ = h.Write(val) // never fails
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func hoursSince2001(t time.Time) int {
	return int(t.Sub(tsRef) / time.Hour)
}

func hashValue(acc Account, ts int) []byte {
	var val bytes.Buffer
	val.WriteString(acc.ID)
	val.Write(acc.PasswordHash)
	if !acc.LastLogin.IsZero() {
		val.WriteString(acc.LastLogin.UTC().Format(time.RFC3339Nano))
	}
	val.WriteString(strconv.Itoa(ts))
	return val.Bytes()
}
