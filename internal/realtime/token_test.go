package realtime

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := TokenExpiry(signed(t, jwt.MapClaims{"exp": exp.Unix()}))
	if !ok || !got.Equal(exp) {
		t.Errorf("TokenExpiry() = %v, %v, want %v", got, ok, exp)
	}

	if _, ok := TokenExpiry(signed(t, jwt.MapClaims{"sub": "me"})); ok {
		t.Error("token without exp reported an expiry")
	}
	if _, ok := TokenExpiry("opaque-token"); ok {
		t.Error("opaque token reported an expiry")
	}
}

func TestRefreshDelay(t *testing.T) {
	now := time.Now()
	tok := signed(t, jwt.MapClaims{"exp": now.Add(10 * time.Minute).Unix()})

	d := refreshDelay(tok, time.Minute, now)
	if d < 8*time.Minute || d > 9*time.Minute+time.Second {
		t.Errorf("refreshDelay() = %v, want about 9m", d)
	}

	expired := signed(t, jwt.MapClaims{"exp": now.Add(-time.Minute).Unix()})
	if d := refreshDelay(expired, time.Minute, now); d != time.Second {
		t.Errorf("refreshDelay(expired) = %v, want 1s floor", d)
	}

	if d := refreshDelay("opaque", time.Minute, now); d != 0 {
		t.Errorf("refreshDelay(opaque) = %v, want 0", d)
	}
}
