// Command echo runs a TCP echo server on evcore: one listener event and
// one read event per accepted connection, all multiplexed on a single Base.
package main

import (
	"flag"
	"log"

	"golang.org/x/sys/unix"

	"github.com/nyan233/evcore"
)

const readBufSize = 4096

func main() {
	port := flag.Int("port", 9000, "listen port")
	flag.Parse()

	base, err := evcore.NewBase(&evcore.BaseConfig{
		Changelist:   true,
		PreciseTimer: true,
	})
	if err != nil {
		log.Fatalf("NewBase: %v", err)
	}
	defer base.Free()

	lfd, err := listen(*port)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer unix.Close(lfd)

	lev := evcore.NewEvent()
	if err := lev.AssignFD(int32(lfd), evcore.READ|evcore.PERSIST, func(ev *evcore.Event, res evcore.EventFlags, _ interface{}) {
		acceptLoop(base, lfd)
	}, nil); err != nil {
		log.Fatalf("AssignFD: %v", err)
	}
	if err := base.Add(lev, nil); err != nil {
		log.Fatalf("Add listener: %v", err)
	}

	log.Printf("echo server listening on port %d", *port)
	if err := base.Dispatch(); err != nil {
		log.Fatalf("Dispatch: %v", err)
	}
}

func listen(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}
	addr := unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

// acceptLoop drains every connection currently pending on the listener's
// accept queue: a nonblocking listener can have several backlogged
// connections behind a single READ activation.
func acceptLoop(base *evcore.Base, lfd int) {
	for {
		connFd, _, err := unix.Accept(lfd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			return
		}
		if err := unix.SetNonblock(connFd, true); err != nil {
			unix.Close(connFd)
			continue
		}
		registerConn(base, connFd)
	}
}

func registerConn(base *evcore.Base, fd int) {
	buf := make([]byte, readBufSize)
	ev := evcore.NewEvent()
	cb := func(ev *evcore.Event, res evcore.EventFlags, _ interface{}) {
		if res&evcore.CLOSED != 0 {
			_ = base.Del(ev)
			unix.Close(fd)
			return
		}
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			_ = base.Del(ev)
			unix.Close(fd)
			return
		}
		if _, err := unix.Write(fd, buf[:n]); err != nil {
			_ = base.Del(ev)
			unix.Close(fd)
		}
	}
	if err := ev.AssignFD(int32(fd), evcore.READ|evcore.PERSIST|evcore.CLOSED, cb, nil); err != nil {
		unix.Close(fd)
		return
	}
	if err := base.Add(ev, nil); err != nil {
		unix.Close(fd)
	}
}
