package lockclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/SystemBuilders/LockMgr/internal/locker"
	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/routing"
)

var _ Config = (*SimpleConfig)(nil)

// SimpleConfig implements Config.
type SimpleConfig struct {
	IPAddr   string
	PortAddr string
}

// NewSimpleConfig returns a new simple configuration.
func NewSimpleConfig(IPAddr, PortAddr string) *SimpleConfig {
	return &SimpleConfig{
		IPAddr:   IPAddr,
		PortAddr: PortAddr,
	}
}

// IP returns the IP from SimpleConfig.
func (scfg *SimpleConfig) IP() string {
	return scfg.IPAddr
}

// Port returns the port from SimpleConfig.
func (scfg *SimpleConfig) Port() string {
	return scfg.PortAddr
}

var _ Client = (*SimpleClient)(nil)

// SimpleClient implements Client over plain http.
type SimpleClient struct {
	baseURL string
	http    *http.Client
}

// NewSimpleClient returns a client for the server described by cfg. A nil
// httpClient means http.DefaultClient.
func NewSimpleClient(cfg Config, httpClient *http.Client) *SimpleClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SimpleClient{
		baseURL: "http://" + net.JoinHostPort(cfg.IP(), cfg.Port()),
		http:    httpClient,
	}
}

// Health makes a HTTP call to the health route.
func (sc *SimpleClient) Health(ctx context.Context) error {
	_, err := sc.do(ctx, http.MethodGet, "/health", nil)
	return err
}

// Locks makes a HTTP call to the lock report route.
func (sc *SimpleClient) Locks(ctx context.Context) ([]lockmanager.LockInfo, error) {
	var infos []lockmanager.LockInfo
	if err := sc.getJSON(ctx, "/locks", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Stats makes a HTTP call to the statistics route.
func (sc *SimpleClient) Stats(ctx context.Context) (locker.StatsReport, error) {
	var report locker.StatsReport
	if err := sc.getJSON(ctx, "/stats", &report); err != nil {
		return nil, err
	}
	return report, nil
}

// ResetStats makes a HTTP call that zeroes the statistics.
func (sc *SimpleClient) ResetStats(ctx context.Context) error {
	_, err := sc.do(ctx, http.MethodDelete, "/stats", nil)
	return err
}

// Tickets makes a HTTP call to the admission pool route.
func (sc *SimpleClient) Tickets(ctx context.Context) (routing.TicketsInfo, error) {
	var info routing.TicketsInfo
	err := sc.getJSON(ctx, "/tickets", &info)
	return info, err
}

// ResizeTickets makes a HTTP call that resizes an admission pool.
func (sc *SimpleClient) ResizeTickets(ctx context.Context, pool string, size int) (routing.PoolInfo, error) {
	var info routing.PoolInfo
	body, err := json.Marshal(routing.ResizeRequest{Size: size})
	if err != nil {
		return info, err
	}
	data, err := sc.do(ctx, http.MethodPost, "/tickets/"+pool, bytes.NewReader(body))
	if err != nil {
		return info, err
	}
	err = json.Unmarshal(data, &info)
	return info, errors.Wrap(err, "decoding pool")
}

// NewLocker makes a HTTP call that opens a locker session.
func (sc *SimpleClient) NewLocker(ctx context.Context) (locker.LockerInfo, error) {
	var info locker.LockerInfo
	err := sc.sendJSON(ctx, http.MethodPost, "/lockers", nil, &info)
	return info, err
}

// LockerInfo makes a HTTP call to the session route.
func (sc *SimpleClient) LockerInfo(ctx context.Context, id lockmanager.LockerID) (locker.LockerInfo, error) {
	var info locker.LockerInfo
	err := sc.getJSON(ctx, lockerPath(id), &info)
	return info, err
}

// Acquire makes a HTTP call that locks a resource for a session.
func (sc *SimpleClient) Acquire(ctx context.Context, id lockmanager.LockerID, req routing.AcquireRequest) (routing.AcquireResponse, error) {
	var resp routing.AcquireResponse
	err := sc.sendJSON(ctx, http.MethodPost, lockerPath(id)+"/acquire", req, &resp)
	return resp, err
}

// Release makes a HTTP call that releases a resource held by a session.
func (sc *SimpleClient) Release(ctx context.Context, id lockmanager.LockerID, req routing.ReleaseRequest) (routing.ReleaseResponse, error) {
	var resp routing.ReleaseResponse
	err := sc.sendJSON(ctx, http.MethodPost, lockerPath(id)+"/release", req, &resp)
	return resp, err
}

// EndLocker makes a HTTP call that closes a session.
func (sc *SimpleClient) EndLocker(ctx context.Context, id lockmanager.LockerID) error {
	_, err := sc.do(ctx, http.MethodDelete, lockerPath(id), nil)
	return err
}

func lockerPath(id lockmanager.LockerID) string {
	return "/lockers/" + strconv.FormatUint(uint64(id), 10)
}

func (sc *SimpleClient) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	data, err := sc.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, out), "decoding %s", path)
}

func (sc *SimpleClient) getJSON(ctx context.Context, path string, v interface{}) error {
	data, err := sc.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decoding %s", path)
}

func (sc *SimpleClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, sc.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	resp, err := sc.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		text := strings.TrimSpace(string(data))
		return nil, errors.Wrapf(statusError(resp.StatusCode, text), "%s %s: %d %s",
			method, path, resp.StatusCode, text)
	}
	return data, nil
}

// statusError maps the refusals of the acquire route back to the lock
// manager's errors.
func statusError(code int, text string) error {
	switch {
	case code == http.StatusRequestTimeout:
		return lockmanager.ErrLockTimeout
	case code == http.StatusConflict && strings.Contains(text, lockmanager.ErrDeadlock.Error()):
		return lockmanager.ErrDeadlock
	}
	return ErrUnexpectedStatus
}
