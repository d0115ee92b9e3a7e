package lock

import (
	"fmt"
	"sync"
)

type lockImpl struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers map[Owner]int // shared hold count per owner
	writer  Owner         // exclusive holder, 0 = none
	depth   int           // reentrancy depth of the exclusive holder
}

// NewLock creates an unlocked reentrant shared/exclusive lock.
func NewLock() ILock {
	l := &lockImpl{readers: make(map[Owner]int)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *lockImpl) AcquireShared(owner Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// the exclusive holder may always read; everybody else waits for it to leave
	for l.writer != 0 && l.writer != owner {
		l.cond.Wait()
	}
	l.readers[owner]++
}

func (l *lockImpl) ReleaseShared(owner Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.readers[owner]
	if n == 0 {
		panic(fmt.Sprintf("lock: owner %d releases a shared hold it does not have", owner))
	}
	if n == 1 {
		delete(l.readers, owner)
	} else {
		l.readers[owner] = n - 1
	}
	if len(l.readers) == 0 {
		l.cond.Broadcast()
	}
}

func (l *lockImpl) AcquireExclusive(owner Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == owner {
		l.depth++
		return
	}
	if l.readers[owner] > 0 {
		panic(fmt.Sprintf("lock: owner %d cannot upgrade a shared hold to exclusive", owner))
	}
	for l.writer != 0 || len(l.readers) > 0 {
		l.cond.Wait()
	}
	l.writer = owner
	l.depth = 1
}

func (l *lockImpl) ReleaseExclusive(owner Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != owner {
		panic(fmt.Sprintf("lock: owner %d releases an exclusive hold it does not have", owner))
	}
	l.depth--
	if l.depth == 0 {
		l.writer = 0
		l.cond.Broadcast()
	}
}

func (l *lockImpl) HoldsExclusive(owner Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return owner != 0 && l.writer == owner
}
