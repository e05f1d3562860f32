package gateway

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/wabot/wabot/pkg/consts"
	"github.com/wabot/wabot/pkg/logger"
)

// Activated sockets start right after stdio.
const listenFDsStart = 3

// Listeners hands out TCP listeners for the API. Sockets passed by a
// service manager (LISTEN_FDS) are claimed before anything is bound, so a
// restart under socket activation never refuses connections.
type Listeners struct {
	mu sync.Mutex

	active    map[string]net.Listener
	inherited []net.Listener

	discovered bool
	firstFD    int
	getenv     func(string) string
	unsetenv   func(string) error
	log        logger.Logger
}

// NewListeners returns a Listeners reading activation state from the
// process environment.
func NewListeners(l logger.Logger) *Listeners {
	return newListeners(l, listenFDsStart, os.Getenv, os.Unsetenv)
}

func newListeners(l logger.Logger, firstFD int, getenv func(string) string, unsetenv func(string) error) *Listeners {
	if l == nil {
		l = logger.Log
	}
	return &Listeners{
		active:   make(map[string]net.Listener),
		firstFD:  firstFD,
		getenv:   getenv,
		unsetenv: unsetenv,
		log:      l.With("component", "listeners"),
	}
}

func isSocket(fd int) bool {
	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		return false
	}
	return st.Mode&syscall.S_IFMT == syscall.S_IFSOCK
}

func (ls *Listeners) discover() {
	if ls.discovered {
		return
	}
	ls.discovered = true

	pid, count := ls.getenv(consts.EnvListenPID), ls.getenv(consts.EnvListenFDs)
	if count == "" {
		return
	}
	// Children must not claim the same descriptors.
	for _, k := range []string{consts.EnvListenPID, consts.EnvListenFDs, consts.EnvListenFDNames} {
		_ = ls.unsetenv(k)
	}
	if pid != "" && pid != strconv.Itoa(os.Getpid()) {
		ls.log.Debug("Activation sockets addressed to another process", "listen_pid", pid)
		return
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return
	}

	for fd := ls.firstFD; fd < ls.firstFD+n; fd++ {
		if !isSocket(fd) {
			ls.log.Warn("Inherited descriptor is not a socket, skipping", "fd", fd)
			continue
		}
		f := os.NewFile(uintptr(fd), "listener-"+strconv.Itoa(fd))
		l, err := net.FileListener(f)
		// FileListener dups the descriptor; the original is ours to close.
		_ = f.Close()
		if err != nil {
			ls.log.Warn("Inherited descriptor unusable", "fd", fd, "err", err)
			continue
		}
		ls.log.Info("Inherited listening socket", "addr", l.Addr().String(), "fd", fd)
		ls.inherited = append(ls.inherited, l)
	}
}

// Listen returns the listener for addr: the active one, a matching
// inherited socket, or a freshly bound one.
func (ls *Listeners) Listen(addr string) (net.Listener, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if l, ok := ls.active[addr]; ok {
		return l, nil
	}
	ls.discover()

	for i, l := range ls.inherited {
		if matchAddr(l.Addr(), addr) {
			ls.inherited = append(ls.inherited[:i], ls.inherited[i+1:]...)
			ls.active[addr] = l
			ls.log.Info("Claimed inherited socket", "addr", addr)
			return l, nil
		}
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	ls.active[addr] = l
	return l, nil
}

// Close closes every listener, claimed or not.
func (ls *Listeners) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var errs []error
	for addr, l := range ls.active {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		delete(ls.active, addr)
	}
	for _, l := range ls.inherited {
		_ = l.Close()
	}
	ls.inherited = nil
	return errors.Join(errs...)
}

// matchAddr reports whether a bound address serves want. An empty or
// unspecified host in want only matches a wildcard bind.
func matchAddr(got net.Addr, want string) bool {
	tcp, ok := got.(*net.TCPAddr)
	if !ok {
		return false
	}
	host, port, err := net.SplitHostPort(want)
	if err != nil {
		return false
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil || p != tcp.Port {
		return false
	}
	if host == "" {
		return tcp.IP.IsUnspecified()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if ip.IsUnspecified() {
		return tcp.IP.IsUnspecified()
	}
	return ip.Equal(tcp.IP)
}

// Personal.AI order the ending
