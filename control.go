package main

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"roomhub/hub"
)

const controlTimeout = 5 * time.Second

type historyClearer interface {
	Clear(ctx context.Context, room string) error
}

// controller serves the admin unix socket. Each connection carries one
// command line of the form cmd|arg and gets one reply line back.
type controller struct {
	stats   func(ctx context.Context) (string, error)
	hub     *hub.Manager
	history hub.HistoryStore
	stop    func()

	// announced is set once sessions were told about a shutdown.
	announced atomic.Bool

	mu       sync.Mutex
	listener net.Listener
	path     string
}

func (c *controller) listen(path string) error {
	// stale socket from a previous run
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.listener, c.path = listener, path
	c.mu.Unlock()

	log.Info().Str("path", path).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn().Err(err).Msg("control socket accept")
			continue
		}
		go c.handle(conn)
	}
}

func (c *controller) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	err := c.listener.Close()
	os.Remove(c.path)
	c.listener = nil
	return err
}

func (c *controller) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(controlTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	reply := c.execute(strings.TrimSpace(line))
	_, _ = conn.Write([]byte(reply + "\n"))

	if strings.HasPrefix(line, "shutdown") && strings.HasPrefix(reply, "OK|") {
		c.stop()
	}
}

// shutdownHub warns sessions unless an operator already did over the
// socket, then stops the hub loop and waits for it to exit.
func (c *controller) shutdownHub(ctx context.Context, stop context.CancelFunc, done <-chan struct{}) error {
	if c.announced.CompareAndSwap(false, true) {
		if err := c.hub.Shutdown(ctx, "maintenance"); err != nil && !errors.Is(err, hub.ErrClosed) {
			log.Warn().Err(err).Msg("shutdown notice not sent")
		}
	}
	stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *controller) execute(line string) string {
	parts := strings.SplitN(line, "|", 2)
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	switch parts[0] {
	case "stats":
		stats, err := c.stats(ctx)
		if err != nil {
			return "ERROR|" + err.Error()
		}
		return "OK|" + stats

	case "shutdown":
		reason := arg
		if reason == "" {
			reason = "maintenance"
		}
		log.Info().Str("reason", reason).Msg("shutdown requested over control socket")
		if err := c.hub.Shutdown(ctx, reason); err != nil && !errors.Is(err, hub.ErrClosed) {
			return "ERROR|" + err.Error()
		}
		c.announced.Store(true)
		return "OK|Shutting down"

	case "clear":
		if arg == "" {
			return "ERROR|Room required"
		}
		clearer, ok := c.history.(historyClearer)
		if !ok {
			return "ERROR|History backend cannot clear"
		}
		if err := clearer.Clear(ctx, arg); err != nil {
			return "ERROR|" + err.Error()
		}
		log.Info().Str("room", arg).Msg("history cleared")
		return "OK|Cleared " + arg

	case "":
		return "ERROR|Invalid command"
	}

	return "ERROR|Unknown command"
}
