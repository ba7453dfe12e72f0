// Command httpecho serves a fixed HTTP response over evcore, using a
// common-timeout bucket to drop idle connections and a signal event to
// shut down cleanly on SIGINT.
package main

import (
	"flag"
	"log"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nyan233/evcore"
)

const readBufSize = 4096

var response = []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok")

func main() {
	port := flag.Int("port", 9001, "listen port")
	idle := flag.Duration("idle", 5*time.Second, "idle connection timeout")
	flag.Parse()

	base, err := evcore.NewBase(&evcore.BaseConfig{
		Changelist:   true,
		PreciseTimer: true,
	})
	if err != nil {
		log.Fatalf("NewBase: %v", err)
	}
	defer base.Free()

	idleTimeout := base.NewCommonTimeout(*idle)

	shutdown := evcore.NewEvent()
	if err := shutdown.AssignSignal(int(syscall.SIGINT), func(ev *evcore.Event, _ evcore.EventFlags, _ interface{}) {
		log.Printf("shutting down")
		base.LoopBreak()
	}, nil); err != nil {
		log.Fatalf("AssignSignal: %v", err)
	}
	if err := base.Add(shutdown, nil); err != nil {
		log.Fatalf("Add signal: %v", err)
	}

	lfd, err := listen(*port)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	defer unix.Close(lfd)

	lev := evcore.NewEvent()
	if err := lev.AssignFD(int32(lfd), evcore.READ|evcore.PERSIST, func(ev *evcore.Event, res evcore.EventFlags, _ interface{}) {
		acceptLoop(base, lfd, idleTimeout)
	}, nil); err != nil {
		log.Fatalf("AssignFD: %v", err)
	}
	if err := base.Add(lev, nil); err != nil {
		log.Fatalf("Add listener: %v", err)
	}

	log.Printf("httpecho listening on port %d, idle timeout %s", *port, *idle)
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
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
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

func acceptLoop(base *evcore.Base, lfd int, idleTimeout evcore.CommonTimeout) {
	for {
		connFd, _, err := unix.Accept(lfd)
		if err != nil {
			return
		}
		if err := unix.SetNonblock(connFd, true); err != nil {
			unix.Close(connFd)
			continue
		}
		registerConn(base, connFd, idleTimeout)
	}
}

func registerConn(base *evcore.Base, fd int, idleTimeout evcore.CommonTimeout) {
	buf := make([]byte, readBufSize)
	ev := evcore.NewEvent()
	cb := func(ev *evcore.Event, res evcore.EventFlags, _ interface{}) {
		if res&evcore.TIMEOUT != 0 || res&evcore.CLOSED != 0 {
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
		if _, err := unix.Write(fd, response); err != nil {
			log.Printf("write: %v", err)
		}
		_ = base.Del(ev)
		unix.Close(fd)
	}
	if err := ev.AssignFD(int32(fd), evcore.READ|evcore.CLOSED, cb, nil); err != nil {
		unix.Close(fd)
		return
	}
	if err := base.AddCommon(ev, idleTimeout); err != nil {
		unix.Close(fd)
	}
}
