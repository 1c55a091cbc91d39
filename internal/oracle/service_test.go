package oracle_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/oracle"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/alanyoungcy/predictx/internal/store/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oracleAddr = common.HexToAddress(oracle.DefaultAddress)
	requester  = common.HexToAddress("0x00000000000000000000000000000000c0ffee00")
	user       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type delivery struct {
	caller   common.Address
	url      string
	userData []byte
	code     oracle.Code
	result   []byte
}

type harness struct {
	exec       *runtime.Executor
	svc        *oracle.Service
	deliveries []delivery
	reject     error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{}
	h.exec = runtime.NewExecutor(memory.NewKVStore(), discardLogger())
	h.svc = oracle.NewService(oracleAddr, h.exec, discardLogger())
	h.svc.RegisterCallback(requester, "onOracleCallback", func(ic *runtime.Context, url string, userData []byte, code oracle.Code, result []byte) error {
		if err := ic.PutString("last", string(result)); err != nil {
			return err
		}
		h.deliveries = append(h.deliveries, delivery{ic.Caller(), url, userData, code, result})
		return h.reject
	})
	return h
}

func (h *harness) request(t *testing.T, url, filter, cb string, gas int64) (uint64, error) {
	t.Helper()
	rcpt, err := h.exec.Invoke(context.Background(), runtime.Invocation{Sender: user}, func(ic *runtime.Context) (any, error) {
		return h.svc.Request(ic.Call(requester), url, filter, cb, []byte("7"), gas)
	})
	if err != nil {
		return 0, err
	}
	return rcpt.Result.(uint64), nil
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	gas := oracle.MinimumResponseGas

	cases := map[string]func() error{
		"empty url": func() error { _, err := h.request(t, "", "", "onOracleCallback", gas); return err },
		"long url": func() error {
			_, err := h.request(t, "https://x/"+strings.Repeat("a", 250), "", "onOracleCallback", gas)
			return err
		},
		"long filter": func() error {
			_, err := h.request(t, "https://x", "$."+strings.Repeat("a", 130), "onOracleCallback", gas)
			return err
		},
		"private callback": func() error { _, err := h.request(t, "https://x", "", "_hidden", gas); return err },
		"long callback": func() error {
			_, err := h.request(t, "https://x", "", strings.Repeat("c", 33), gas)
			return err
		},
		"low gas":        func() error { _, err := h.request(t, "https://x", "", "onOracleCallback", gas-1); return err },
		"unknown method": func() error { _, err := h.request(t, "https://x", "", "onOther", gas); return err },
	}
	for name, fn := range cases {
		assert.ErrorIs(t, fn(), domain.ErrInvalidArgument, name)
	}
}

func TestRequestAssignsMonotonicIDs(t *testing.T) {
	h := newHarness(t)
	a, err := h.request(t, "https://x/a", "$.outcome", "onOracleCallback", oracle.MinimumResponseGas)
	require.NoError(t, err)
	b, err := h.request(t, "https://x/b", "", "onOracleCallback", oracle.MinimumResponseGas)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(2), b)

	req, err := h.svc.GetRequest(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, requester, req.Requester)
	assert.Equal(t, "$.outcome", req.Filter)
	assert.Equal(t, []byte("7"), req.UserData)
}

func TestFulfillDeliversAsOracle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.request(t, "https://x", "", "onOracleCallback", oracle.MinimumResponseGas)
	require.NoError(t, err)

	_, err = h.svc.Fulfill(ctx, id, oracle.Success, []byte(`{"outcome":"yes"}`))
	require.NoError(t, err)
	require.Len(t, h.deliveries, 1)
	d := h.deliveries[0]
	assert.Equal(t, oracleAddr, d.caller)
	assert.Equal(t, "https://x", d.url)
	assert.Equal(t, []byte("7"), d.userData)
	assert.Equal(t, oracle.Success, d.code)

	_, err = h.svc.GetRequest(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Fulfill(ctx, id, oracle.Success, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, h.deliveries, 1)
}

func TestFulfillRejectedCallbackRetiresRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.request(t, "https://x", "", "onOracleCallback", oracle.MinimumResponseGas)
	require.NoError(t, err)

	h.reject = errors.New("not now")
	rcpt, err := h.svc.Fulfill(ctx, id, oracle.Timeout, nil)
	assert.ErrorIs(t, err, h.reject)

	require.Len(t, rcpt.Events, 1)
	resp, ok := rcpt.Events[0].Payload.(domain.OracleResponse)
	require.True(t, ok)
	assert.False(t, resp.Delivered)
	assert.Equal(t, uint8(oracle.Timeout), resp.Code)

	// The callback's writes were rolled back.
	last, err := runtime.QueryAs(ctx, h.exec, requester, func(ic *runtime.Context) (string, error) {
		return ic.GetString("last")
	})
	require.NoError(t, err)
	assert.Empty(t, last)

	pending, err := h.svc.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingSkipsRetired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.request(t, "https://x", "", "onOracleCallback", oracle.MinimumResponseGas)
		require.NoError(t, err)
	}
	_, err := h.svc.Fulfill(ctx, 2, oracle.Success, nil)
	require.NoError(t, err)

	pending, err := h.svc.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(1), pending[0].ID)
	assert.Equal(t, uint64(3), pending[1].ID)

	pending, err = h.svc.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestWorkerFulfillsFromHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"outcome":"no","source":"test"}`))
	}))
	defer srv.Close()

	h := newHarness(t)
	_, err := h.request(t, srv.URL, "$.outcome", "onOracleCallback", oracle.MinimumResponseGas)
	require.NoError(t, err)

	w := oracle.NewWorker(h.svc, newFetcher(), 0, discardLogger())
	n, err := w.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, h.deliveries, 1)
	assert.Equal(t, oracle.Success, h.deliveries[0].code)
	assert.JSONEq(t, `["no"]`, string(h.deliveries[0].result))
}

func TestIsPendingTracksRequester(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.request(t, "https://x", "", "onOracleCallback", oracle.MinimumResponseGas)
	require.NoError(t, err)

	pendingFor := func(as common.Address) bool {
		t.Helper()
		live, err := runtime.QueryAs(ctx, h.exec, as, func(ic *runtime.Context) (bool, error) {
			return h.svc.IsPending(ic, id)
		})
		require.NoError(t, err)
		return live
	}
	assert.True(t, pendingFor(requester))
	assert.False(t, pendingFor(user), "another contract's request")

	h.reject = errors.New("not now")
	_, err = h.svc.Fulfill(ctx, id, oracle.Timeout, nil)
	require.Error(t, err)
	assert.False(t, pendingFor(requester))
}
