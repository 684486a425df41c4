package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-wabridge/pkg/correlation"
	"github.com/lightforgemedia/go-wabridge/pkg/native"
)

// GroupInfo is the group description returned by the engine.
type GroupInfo map[string]any

// GetGroupInviteLink returns the invite link of group. With reset the
// previous link is revoked and a new one returned.
func (c *Client) GetGroupInviteLink(ctx context.Context, group string, reset bool) (string, error) {
	if err := checkText("group", group, false); err != nil {
		return "", err
	}
	payload, err := c.query(ctx, native.CallGetGroupInviteLink, func(id string) native.Status {
		return c.engine.GetGroupInviteLink(c.handle, group, reset, id)
	})
	if err != nil {
		return "", err
	}
	var link string
	if err := json.Unmarshal(payload, &link); err != nil {
		return "", &RequestFailedError{Call: native.CallGetGroupInviteLink, Err: fmt.Errorf("decode invite link: %w", err)}
	}
	return link, nil
}

// GetGroupInfo returns the description of group.
func (c *Client) GetGroupInfo(ctx context.Context, group string) (GroupInfo, error) {
	if err := checkText("group", group, false); err != nil {
		return nil, err
	}
	payload, err := c.query(ctx, native.CallGetGroupInfo, func(id string) native.Status {
		return c.engine.GetGroupInfo(c.handle, group, id)
	})
	if err != nil {
		return nil, err
	}
	var info GroupInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, &RequestFailedError{Call: native.CallGetGroupInfo, Err: fmt.Errorf("decode group info: %w", err)}
	}
	return info, nil
}

// query registers a request id, issues the call with it and waits for the
// matching methodReturn. The wait ends at the request timeout or the ctx
// deadline, whichever comes first.
func (c *Client) query(ctx context.Context, call native.Call, issue func(id string) native.Status) (json.RawMessage, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := c.table.Register()
	st := issue(id)
	if !native.Succeeded(call, st) {
		c.table.Forget(id)
		if st == native.StatusInvalidHandle && c.closed() {
			return nil, ErrDisconnected
		}
		return nil, &RequestFailedError{Call: call, Status: st}
	}
	c.logger.Debug("query issued", "call", string(call), "request_id", id)

	r, err := c.table.Await(ctx, id, c.opts.RequestTimeout)
	if err != nil {
		var remote *correlation.RemoteError
		switch {
		case errors.As(err, &remote):
			return nil, &RequestFailedError{Call: call, Status: st, Err: remote}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %w", correlation.ErrRequestTimeout, err)
		}
		return nil, err
	}
	return r.Payload, nil
}
