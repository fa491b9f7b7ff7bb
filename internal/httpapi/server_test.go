package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/token_ledger/internal/feeledger"
	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/middleware"
	"github.com/R3E-Network/token_ledger/internal/storage/memory"
	"github.com/R3E-Network/token_ledger/internal/token"
)

var (
	deployer = util.Uint160{0x01}
	alice    = util.Uint160{0x0a}
	bob      = util.Uint160{0x0b}
	pair     = util.Uint160{0x0c}
	sink     = util.Uint160{0x0d}

	keyOnce    sync.Once
	signingKey *rsa.PrivateKey
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return signingKey
}

type fixture struct {
	t       *testing.T
	ledger  *feeledger.Ledger
	handler http.Handler
	key     *rsa.PrivateKey
}

func newFixture(t *testing.T, limiter *middleware.RateLimiter) *fixture {
	t.Helper()
	key := testKey(t)
	log := logging.Discard()

	l, err := feeledger.New(context.Background(), feeledger.Config{
		Deployer:   deployer,
		FeeAddress: sink,
		Pairs:      []util.Uint160{pair},
	}, memory.New(), feeledger.WithLogger(log))
	require.NoError(t, err)

	_, err = l.Transfer(context.Background(), deployer, alice, uint256.NewInt(1000))
	require.NoError(t, err)

	srv := New(l, Options{
		Logger:         log,
		Auth:           middleware.NewAuthMiddleware(&key.PublicKey, log, nil),
		RateLimiter:    limiter,
		AllowedOrigins: []string{"https://app.example"},
	})
	return &fixture{t: t, ledger: l, handler: srv.Handler(), key: key}
}

func (f *fixture) bearer(acct util.Uint160) string {
	claims := &middleware.Claims{
		NeoAddress: token.FormatAccount(acct),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(f.key)
	require.NoError(f.t, err)
	return "Bearer " + signed
}

func (f *fixture) do(method, path string, as *util.Uint160, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:4000"
	if as != nil {
		req.Header.Set("Authorization", f.bearer(*as))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func addr(acct util.Uint160) string { return token.FormatAccount(acct) }

func errorCode(rec *httptest.ResponseRecorder) string {
	return gjson.Get(rec.Body.String(), "error.code").String()
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())

	rec = f.do(http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_ledger_ledger_calls_total")
}

func TestTokenInfo(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/v1/token", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, "Pay It Forward", gjson.Get(body, "name").String())
	assert.Equal(t, "PIF", gjson.Get(body, "symbol").String())
	assert.Equal(t, int64(18), gjson.Get(body, "decimals").Int())
	assert.Equal(t, "500000000000000000000000000", gjson.Get(body, "total_supply").String())
	assert.Equal(t, addr(deployer), gjson.Get(body, "owner").String())
	assert.Equal(t, addr(sink), gjson.Get(body, "fee_address").String())
	assert.Equal(t, int64(300), gjson.Get(body, "fee_rate_bps").Int())
	assert.False(t, gjson.Get(body, "paused").Bool())
	assert.False(t, gjson.Get(body, "pending_owner").Exists())
	assert.Equal(t, int64(1), gjson.Get(body, "liquidity_pairs").Int())
}

func TestReadRoutes(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body string)
	}{
		{
			name:   "balance",
			path:   "/v1/balances/" + addr(alice),
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "1000", gjson.Get(body, "balance").String())
			},
		},
		{
			name:   "balance of unknown account",
			path:   "/v1/balances/" + addr(bob),
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "0", gjson.Get(body, "balance").String())
			},
		},
		{
			name:   "malformed address",
			path:   "/v1/balances/not-an-address",
			status: http.StatusBadRequest,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "INVALID_FORMAT", gjson.Get(body, "error.code").String())
			},
		},
		{
			name:   "allowance",
			path:   "/v1/allowances/" + addr(alice) + "/" + addr(bob),
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "0", gjson.Get(body, "allowance").String())
			},
		},
		{
			name:   "pairs",
			path:   "/v1/pairs",
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, []string{addr(pair)}, stringsOf(gjson.Get(body, "pairs")))
			},
		},
		{
			name:   "is pair",
			path:   "/v1/pairs/" + addr(pair),
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.True(t, gjson.Get(body, "is_liquidity_pair").Bool())
			},
		},
		{
			name:   "is not pair",
			path:   "/v1/pairs/" + addr(alice),
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.False(t, gjson.Get(body, "is_liquidity_pair").Bool())
			},
		},
		{
			name:   "quote with fee",
			path:   "/v1/fees/quote?from=" + addr(alice) + "&to=" + addr(pair) + "&amount=1000",
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "30", gjson.Get(body, "fee").String())
				assert.Equal(t, "970", gjson.Get(body, "net").String())
				assert.True(t, gjson.Get(body, "fee_applied").Bool())
			},
		},
		{
			name:   "quote without fee",
			path:   "/v1/fees/quote?from=" + addr(alice) + "&to=" + addr(bob) + "&amount=1000",
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "0", gjson.Get(body, "fee").String())
				assert.Equal(t, "1000", gjson.Get(body, "net").String())
				assert.False(t, gjson.Get(body, "fee_applied").Bool())
			},
		},
		{
			name:   "quote missing amount",
			path:   "/v1/fees/quote?from=" + addr(alice) + "&to=" + addr(bob),
			status: http.StatusBadRequest,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "INVALID_AMOUNT", gjson.Get(body, "error.code").String())
			},
		},
		{
			name:   "events filtered",
			path:   "/v1/events?type=token.transfer&limit=1",
			status: http.StatusOK,
			check: func(t *testing.T, body string) {
				assert.Equal(t, int64(1), gjson.Get(body, "count").Int())
				assert.Equal(t, addr(alice), gjson.Get(body, "events.0.to").String())
				assert.Equal(t, "1000", gjson.Get(body, "events.0.amount").String())
			},
		},
		{
			name:   "events bad limit",
			path:   "/v1/events?limit=0",
			status: http.StatusBadRequest,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "INVALID_PARAMETER", gjson.Get(body, "error.code").String())
			},
		},
		{
			name:   "events unknown type",
			path:   "/v1/events?type=fee.burned",
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown route",
			path:   "/v1/nothing",
			status: http.StatusNotFound,
			check: func(t *testing.T, body string) {
				assert.Equal(t, "NOT_FOUND", gjson.Get(body, "error.code").String())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.path, nil, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec.Body.String())
			}
		})
	}
}

func stringsOf(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func TestTransferRoute(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("requires authentication", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/transfer", nil, `{"to":"`+addr(bob)+`","amount":"1"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "UNAUTHENTICATED", errorCode(rec))
	})

	t.Run("fee applies when sending to a pair", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/transfer", &alice, `{"to":"`+addr(pair)+`","amount":"1000"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := rec.Body.String()
		assert.Equal(t, addr(alice), gjson.Get(body, "from").String())
		assert.Equal(t, "30", gjson.Get(body, "fee").String())
		assert.Equal(t, "970", gjson.Get(body, "net").String())
		assert.Equal(t, int64(300), gjson.Get(body, "rate_bps").Int())

		assert.Equal(t, "30", f.ledger.BalanceOf(sink).Dec())
		assert.Equal(t, "970", f.ledger.BalanceOf(pair).Dec())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/transfer", &alice, `{"to":"`+addr(bob)+`","amount":"1"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "INSUFFICIENT_BALANCE", errorCode(rec))
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/transfer", &alice, `{"to":"x","amount":"1","extra":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_FORMAT", errorCode(rec))
	})

	t.Run("zero amount", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/transfer", &deployer, `{"to":"`+addr(bob)+`","amount":"0"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_AMOUNT", errorCode(rec))
	})
}

func TestAllowanceRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/approve", &alice, `{"spender":"`+addr(bob)+`","amount":"500"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "500", gjson.Get(rec.Body.String(), "allowance").String())

	rec = f.do(http.MethodPost, "/v1/allowances/increase", &alice, `{"spender":"`+addr(bob)+`","amount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "600", gjson.Get(rec.Body.String(), "allowance").String())

	rec = f.do(http.MethodPost, "/v1/allowances/decrease", &alice, `{"spender":"`+addr(bob)+`","amount":"700"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_ALLOWANCE", errorCode(rec))

	rec = f.do(http.MethodPost, "/v1/allowances/decrease", &alice, `{"spender":"`+addr(bob)+`","amount":"200"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "400", gjson.Get(rec.Body.String(), "allowance").String())

	// bob sells alice's tokens into the pair; the allowance is charged the full amount
	rec = f.do(http.MethodPost, "/v1/transfer-from", &bob,
		`{"from":"`+addr(alice)+`","to":"`+addr(pair)+`","amount":"400"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "12", gjson.Get(rec.Body.String(), "fee").String())
	assert.Equal(t, "388", gjson.Get(rec.Body.String(), "net").String())

	rec = f.do(http.MethodGet, "/v1/allowances/"+addr(alice)+"/"+addr(bob), nil, "")
	assert.Equal(t, "0", gjson.Get(rec.Body.String(), "allowance").String())
	assert.Equal(t, "600", f.ledger.BalanceOf(alice).Dec())
}

func TestBurnRoute(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/v1/burn", &alice, `{"amount":"100"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(rec))

	before := f.ledger.TotalSupply()
	rec = f.do(http.MethodPost, "/v1/burn", &deployer, `{"amount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, addr(deployer), gjson.Get(rec.Body.String(), "address").String())

	want := new(uint256.Int).Sub(before, uint256.NewInt(100))
	assert.True(t, want.Eq(f.ledger.TotalSupply()))
}

func TestAdminRoutes(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("non-owner is rejected", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/admin/pause", &alice, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", errorCode(rec))
	})

	t.Run("pause blocks transfers", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/admin/pause", &deployer, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, gjson.Get(rec.Body.String(), "paused").Bool())

		rec = f.do(http.MethodPost, "/v1/transfer", &alice, `{"to":"`+addr(bob)+`","amount":"1"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "SYSTEM_PAUSED", errorCode(rec))

		rec = f.do(http.MethodPost, "/v1/admin/unpause", &deployer, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, gjson.Get(rec.Body.String(), "paused").Bool())
	})

	t.Run("fee rate", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/admin/fee-rate", &deployer, `{"rate_bps":301}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_PARAMETER", errorCode(rec))

		rec = f.do(http.MethodPost, "/v1/admin/fee-rate", &deployer, `{"rate_bps":70000}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(http.MethodPost, "/v1/admin/fee-rate", &deployer, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(http.MethodPost, "/v1/admin/fee-rate", &deployer, `{"rate_bps":200}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(200), gjson.Get(rec.Body.String(), "fee_rate_bps").Int())
	})

	t.Run("fee address", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/admin/fee-address", &deployer, `{"address":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_ADDRESS", errorCode(rec))

		rec = f.do(http.MethodPost, "/v1/admin/fee-address", &deployer, `{"address":"`+addr(bob)+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, addr(bob), gjson.Get(rec.Body.String(), "fee_address").String())
	})

	t.Run("pairs", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/admin/pairs", &deployer, `{"address":"`+addr(alice)+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "liquidity_pairs").Int())
		assert.True(t, f.ledger.IsLiquidityPair(alice))

		rec = f.do(http.MethodDelete, "/v1/admin/pairs/"+addr(alice), &deployer, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.ledger.IsLiquidityPair(alice))
	})

	t.Run("ownership handoff", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/admin/ownership/transfer", &deployer, `{"new_owner":"`+addr(bob)+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, addr(bob), gjson.Get(rec.Body.String(), "pending_owner").String())

		rec = f.do(http.MethodPost, "/v1/admin/ownership/confirm", &alice, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = f.do(http.MethodPost, "/v1/admin/ownership/confirm", &bob, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, addr(bob), gjson.Get(rec.Body.String(), "owner").String())
		assert.False(t, gjson.Get(rec.Body.String(), "pending_owner").Exists())

		rec = f.do(http.MethodPost, "/v1/admin/ownership/cancel", &bob, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTraceIDInErrors(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/balances/nope", nil)
	req.Header.Set(middleware.TraceHeader, "trace-7")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace-7", rec.Header().Get(middleware.TraceHeader))
	assert.Equal(t, "trace-7", gjson.Get(rec.Body.String(), "error.trace_id").String())
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/transfer", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitedRoutes(t *testing.T) {
	f := newFixture(t, middleware.NewRateLimiter(1, 1, logging.Discard()))

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/token", nil, "").Code)
	rec := f.do(http.MethodGet, "/v1/token", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(rec))

	// authenticated callers get their own budget
	rec = f.do(http.MethodPost, "/v1/approve", &alice, `{"spender":"`+addr(bob)+`","amount":"1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?type=fee.collected&type=token.transfer"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = f.ledger.Transfer(context.Background(), alice, pair, uint256.NewInt(1000))
	require.NoError(t, err)

	var got []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(got) < 3 {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		got = append(got, gjson.GetBytes(msg, "type").String())
		if gjson.GetBytes(msg, "type").String() == "fee.collected" {
			assert.Equal(t, "30", gjson.GetBytes(msg, "fee").String())
			assert.Equal(t, addr(pair), gjson.GetBytes(msg, "to").String())
		}
	}
	assert.Equal(t, []string{"token.transfer", "fee.collected", "token.transfer"}, got)
}

func TestEventStreamRejectsUnknownType(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?type=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
