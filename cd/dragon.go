package cd

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// extra time given to a request on top of the server-side wait
const requestTimeout = 10 * time.Second

type dragonDialer struct {
	opts Options
}

func (d *dragonDialer) Dial(ctx context.Context) (Conn, error) {
	c := &dragonConn{
		addr: d.opts.Addr,
		acc:  url.PathEscape(d.opts.Account),
		hc: &fasthttp.HostClient{
			Addr:     d.opts.Addr,
			Dial:     d.opts.Dial,
			MaxConns: 1,
			// pops are not idempotent, never resend
			MaxIdemponentCallAttempts:     1,
			NoDefaultUserAgentHeader:      true,
			DisableHeaderNamesNormalizing: true,
		},
	}
	pctx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
	defer cancel()
	if err := c.Ping(pctx); err != nil {
		_ = c.Close()
		return nil, errors.Mark(errors.Wrapf(err, "dial %s", d.opts.Addr), ErrConnection)
	}
	return c, nil
}

func (d *dragonDialer) Close() error { return nil }

type dragonConn struct {
	addr string
	acc  string
	hc   *fasthttp.HostClient
}

func (c *dragonConn) do(ctx context.Context, method, path string, body []byte, wait time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://" + c.addr + path)
	if body != nil {
		req.SetBody(body)
	}
	deadline := time.Now().Add(requestTimeout + wait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	err := c.hc.DoDeadline(req, resp, deadline)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, statusErr(resp.StatusCode(), resp.Body())
	}
	return append([]byte(nil), resp.Body()...), nil
}

func statusErr(status int, body []byte) error {
	switch status {
	case fasthttp.StatusRequestTimeout:
		return ErrTimeout
	case fasthttp.StatusNotFound:
		return ErrNotFound
	case fasthttp.StatusConflict:
		return ErrNotInteger
	case fasthttp.StatusServiceUnavailable:
		return ErrStopped
	}
	return &StoreError{Status: status, Msg: string(body)}
}

func (c *dragonConn) Ping(ctx context.Context) error {
	d, err := c.do(ctx, fasthttp.MethodGet, "/ping", nil, 0)
	if err != nil {
		return err
	}
	if string(d) != "PONG" {
		return errors.Newf("unexpected ping reply %q", d)
	}
	return nil
}

func (c *dragonConn) Flush(ctx context.Context) error {
	_, err := c.do(ctx, fasthttp.MethodDelete, "/db/"+c.acc, nil, 0)
	return err
}

func (c *dragonConn) Exec(ctx context.Context, ops ...Op) ([]Result, error) {
	body, err := json.Marshal(BatchRequest{Ops: ops})
	if err != nil {
		return nil, err
	}
	d, err := c.do(ctx, fasthttp.MethodPost, "/db/"+c.acc+"/batch", body, 0)
	if err != nil {
		return nil, err
	}
	var res BatchResponse
	if err := json.Unmarshal(d, &res); err != nil {
		return nil, errors.Wrap(err, "decode batch response")
	}
	if len(res.Results) != len(ops) {
		return nil, errors.Newf("batch returned %d results for %d ops", len(res.Results), len(ops))
	}
	return res.Results, nil
}

func (c *dragonConn) Push(ctx context.Context, list, value string) (int64, error) {
	d, err := c.do(ctx, fasthttp.MethodPost, c.listPath(list), []byte(value), 0)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(d), 10, 64)
}

func (c *dragonConn) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", errors.New("pop timeout must be positive")
	}
	d, err := c.do(ctx, fasthttp.MethodDelete, c.listPath(list)+"?wait="+timeout.String(), nil, timeout)
	if err != nil {
		return "", err
	}
	return string(d), nil
}

func (c *dragonConn) Len(ctx context.Context, list string) (int64, error) {
	d, err := c.do(ctx, fasthttp.MethodGet, c.listPath(list), nil, 0)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(d), 10, 64)
}

func (c *dragonConn) listPath(list string) string {
	return "/db/" + c.acc + "/list/" + url.PathEscape(list)
}

func (c *dragonConn) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}
