package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/alanyoungcy/predictx/internal/domain"
	"github.com/alanyoungcy/predictx/internal/runtime"
	"github.com/ethereum/go-ethereum/common"
)

// Key layout:
//
//	orc:next       last assigned request id
//	orc:req:{id}   pending request (JSON)
const (
	keyNextID     = "orc:next"
	keyRequestPfx = "orc:req:"
)

// Callback receives an oracle response inside the requesting contract. The
// context's caller is the oracle identity.
type Callback func(ic *runtime.Context, url string, userData []byte, code Code, result []byte) error

// Request is a pending oracle request.
type Request struct {
	ID             uint64         `json:"id"`
	Requester      common.Address `json:"requester"`
	URL            string         `json:"url"`
	Filter         string         `json:"filter"`
	Callback       string         `json:"callback"`
	UserData       []byte         `json:"user_data"`
	GasForResponse int64          `json:"gas_for_response"`
	RequestedAt    int64          `json:"requested_at"`
}

// Service is the oracle contract. Requests are recorded on the ledger by the
// requesting contract; responses arrive later as separate invocations sent by
// the oracle identity.
type Service struct {
	addr      common.Address
	exec      *runtime.Executor
	logger    *slog.Logger
	callbacks map[common.Address]map[string]Callback

	mu     sync.Mutex
	cursor uint64
}

// NewService creates the oracle contract deployed at addr.
func NewService(addr common.Address, exec *runtime.Executor, logger *slog.Logger) *Service {
	return &Service{
		addr:      addr,
		exec:      exec,
		logger:    logger.With(slog.String("component", "oracle")),
		callbacks: make(map[common.Address]map[string]Callback),
		cursor:    1,
	}
}

// Address is the oracle identity.
func (s *Service) Address() common.Address { return s.addr }

// RegisterCallback exposes method name of contract to oracle responses.
func (s *Service) RegisterCallback(contract common.Address, name string, cb Callback) {
	if s.callbacks[contract] == nil {
		s.callbacks[contract] = make(map[string]Callback)
	}
	s.callbacks[contract][name] = cb
}

func requestKey(id uint64) string {
	return keyRequestPfx + strconv.FormatUint(id, 10)
}

// Request records a new oracle request on behalf of the contract executing in
// ic and returns its id.
func (s *Service) Request(ic *runtime.Context, url, filter, callback string, userData []byte, gas int64) (uint64, error) {
	oc := ic.Call(s.addr)
	requester := oc.Caller()

	switch {
	case len(url) == 0 || len(url) > MaxURLLength || !utf8.ValidString(url):
		return 0, fmt.Errorf("oracle: request: %w: url length must be 1..%d", domain.ErrInvalidArgument, MaxURLLength)
	case len(filter) > MaxFilterLength || !utf8.ValidString(filter):
		return 0, fmt.Errorf("oracle: request: %w: filter longer than %d", domain.ErrInvalidArgument, MaxFilterLength)
	case len(callback) == 0 || len(callback) > MaxCallbackLength || strings.HasPrefix(callback, "_"):
		return 0, fmt.Errorf("oracle: request: %w: callback %q", domain.ErrInvalidArgument, callback)
	case gas < MinimumResponseGas:
		return 0, fmt.Errorf("oracle: request: %w: gas %d below minimum %d", domain.ErrInvalidArgument, gas, MinimumResponseGas)
	}
	if _, ok := s.callbacks[requester][callback]; !ok {
		return 0, fmt.Errorf("oracle: request: %w: %s has no callback %q", domain.ErrInvalidArgument, requester.Hex(), callback)
	}

	last, err := oc.GetInt(keyNextID)
	if err != nil {
		return 0, fmt.Errorf("oracle: request: %w", err)
	}
	id := uint64(last) + 1

	req := Request{
		ID:             id,
		Requester:      requester,
		URL:            url,
		Filter:         filter,
		Callback:       callback,
		UserData:       append([]byte(nil), userData...),
		GasForResponse: gas,
		RequestedAt:    oc.Time(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("oracle: encode request: %w", err)
	}
	if err := oc.PutInt(keyNextID, int64(id)); err != nil {
		return 0, fmt.Errorf("oracle: request: %w", err)
	}
	if err := oc.Put(requestKey(id), data); err != nil {
		return 0, fmt.Errorf("oracle: request: %w", err)
	}
	oc.Emit(domain.OracleRequest{RequestID: id, Requester: requester, URL: url, Filter: filter})
	return id, nil
}

// IsPending reports whether request id is still waiting for a response on
// behalf of the contract executing in ic. Answered, retired and foreign
// requests all report false.
func (s *Service) IsPending(ic *runtime.Context, id uint64) (bool, error) {
	oc := ic.Call(s.addr)
	req, err := loadRequest(oc, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("oracle: is pending: %w", err)
	}
	return req.Requester == oc.Caller(), nil
}

// GetRequest returns a pending request.
func (s *Service) GetRequest(ctx context.Context, id uint64) (Request, error) {
	return runtime.QueryAs(ctx, s.exec, s.addr, func(ic *runtime.Context) (Request, error) {
		return loadRequest(ic, id)
	})
}

// Pending lists requests that have not been answered yet, oldest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs, err := runtime.QueryAs(ctx, s.exec, s.addr, func(ic *runtime.Context) ([]Request, error) {
		last, err := ic.GetInt(keyNextID)
		if err != nil {
			return nil, err
		}
		var out []Request
		front := true
		for id := s.cursor; id <= uint64(last) && len(out) < limit; id++ {
			req, err := loadRequest(ic, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					if front {
						s.cursor = id + 1
					}
					continue
				}
				return nil, err
			}
			front = false
			out = append(out, req)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("oracle: pending: %w", err)
	}
	return reqs, nil
}

// Fulfill delivers a response to the requesting contract in a new invocation
// sent by the oracle identity. The request is retired whether or not the
// callback accepts the response; a rejected callback leaves the requester's
// state untouched and the callback error is returned.
func (s *Service) Fulfill(ctx context.Context, id uint64, code Code, result []byte) (runtime.Receipt, error) {
	inv := runtime.Invocation{Sender: s.addr, Signers: []common.Address{s.addr}}

	attempted := false
	rcpt, err := s.exec.Invoke(ctx, inv, func(root *runtime.Context) (any, error) {
		req, err := s.retire(root, id)
		if err != nil {
			return nil, err
		}
		cb, ok := s.callbacks[req.Requester][req.Callback]
		if !ok {
			return nil, fmt.Errorf("oracle: fulfill %d: %w: callback %q gone", id, domain.ErrNotFound, req.Callback)
		}
		attempted = true
		root.Emit(domain.OracleResponse{RequestID: id, Code: uint8(code), Delivered: true})
		return nil, cb(root.Call(req.Requester), req.URL, req.UserData, code, result)
	})
	if err == nil {
		s.logger.InfoContext(ctx, "oracle response delivered",
			slog.Uint64("request_id", id),
			slog.String("code", code.String()),
		)
		return rcpt, nil
	}
	if !attempted {
		return rcpt, fmt.Errorf("oracle: fulfill %d: %w", id, err)
	}

	s.logger.WarnContext(ctx, "oracle callback rejected response",
		slog.Uint64("request_id", id),
		slog.String("code", code.String()),
		slog.String("error", err.Error()),
	)
	retired, rerr := s.exec.Invoke(ctx, inv, func(root *runtime.Context) (any, error) {
		if _, err := s.retire(root, id); err != nil {
			return nil, err
		}
		root.Emit(domain.OracleResponse{RequestID: id, Code: uint8(code), Reason: err.Error()})
		return nil, nil
	})
	if rerr != nil {
		return retired, fmt.Errorf("oracle: retire %d: %w", id, rerr)
	}
	return retired, fmt.Errorf("oracle: fulfill %d: callback: %w", id, err)
}

func (s *Service) retire(ic *runtime.Context, id uint64) (Request, error) {
	req, err := loadRequest(ic, id)
	if err != nil {
		return Request{}, err
	}
	if err := ic.Delete(requestKey(id)); err != nil {
		return Request{}, err
	}
	return req, nil
}

func loadRequest(ic *runtime.Context, id uint64) (Request, error) {
	data, err := ic.Get(requestKey(id))
	if err != nil {
		return Request{}, err
	}
	if data == nil {
		return Request{}, fmt.Errorf("oracle: request %d: %w", id, domain.ErrNotFound)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("oracle: decode request %d: %w", id, err)
	}
	return req, nil
}
