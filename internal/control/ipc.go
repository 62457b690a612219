package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// DefaultSocket is the command socket path used by the CLI client.
const DefaultSocket = "/tmp/luna.sock"

// Socket commands.
const (
	CmdStatus = "status"
	CmdText   = "text"
	CmdMute   = "mute"
	CmdUnmute = "unmute"
	CmdToggle = "toggle"
	CmdListen = "listen"
)

// Command is one request on the command socket. Requests and responses are
// newline-delimited JSON; a connection may carry several of them.
type Command struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

// Response answers a [Command].
type Response struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	ID     string  `json:"id,omitempty"`
	Muted  *bool   `json:"muted,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Exec runs one socket command.
func (c *Controller) Exec(ctx context.Context, cmd Command) Response {
	fail := func(err error) Response { return Response{Error: err.Error()} }
	switch cmd.Cmd {
	case CmdStatus:
		st := c.Status(ctx)
		return Response{OK: true, Status: &st}
	case CmdText:
		id, err := c.Text(cmd.Text)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, ID: id.String()}
	case CmdMute, CmdUnmute:
		muted, err := c.SetMuted(ctx, cmd.Cmd == CmdMute)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Muted: &muted}
	case CmdToggle:
		muted, err := c.ToggleMute(ctx)
		if err != nil {
			return fail(err)
		}
		return Response{OK: true, Muted: &muted}
	case CmdListen:
		if err := c.Listen(ctx); err != nil {
			return fail(err)
		}
		return Response{OK: true}
	default:
		return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

// ServeSocket listens on the unix socket at path until ctx is cancelled.
// A stale socket file is removed first and the socket is removed on exit.
func (c *Controller) ServeSocket(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", path, err)
	}
	slog.Info("control: command socket listening", "path", path)

	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.serveConn(ctx, conn)
		}()
	}
}

func (c *Controller) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var cmd Command
		if err := dec.Decode(&cmd); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				_ = enc.Encode(Response{Error: "invalid command: " + err.Error()})
			}
			return
		}
		if err := enc.Encode(c.Exec(ctx, cmd)); err != nil {
			return
		}
	}
}

// Send dials the command socket at path, sends cmd and waits for the
// response.
func Send(ctx context.Context, path string, cmd Command) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("control: dial %s: %w", path, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return Response{}, fmt.Errorf("control: send: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("control: read response: %w", err)
	}
	return resp, nil
}
