package evcore

// Reinit rebuilds the backend's OS-level descriptor and re-registers
// every currently-inserted fd and signal against it. Required after
// fork() in the child process when the backend advertises
// CapNeedReinit (epoll's fd does not survive fork the way kqueue's
// does). It is a no-op for backends that don't need it.
func (b *Base) Reinit() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return ErrBaseClosed
	}
	if !b.backend.Caps().has(CapNeedReinit) {
		return nil
	}
	if err := b.backend.Reinit(); err != nil {
		return err
	}
	for fd, mask := range b.fds.snapshot() {
		if err := b.backend.Add(fd, 0, mask); err != nil {
			b.logger().ErrorFromErr(err)
		}
	}
	for _, signum := range b.sigs.signals() {
		b.sigWatch.watch(signum)
	}
	return nil
}
