package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quorumledger/paxosledger/internal/paxosmsg"
)

// PeerAddr is a peer's dial address, host:port.
type PeerAddr struct {
	Host string
	Port int
}

func (p PeerAddr) String() string { return fmt.Sprintf("%s:%d", p.Host, p.Port) }

// TCP is a Transport backed by one listener per node and one fresh,
// short-lived outbound connection per message.
type TCP struct {
	selfID int
	peers  map[int]PeerAddr

	mu       sync.RWMutex
	failed   bool
	listener net.Listener

	inbox  chan Inbound
	log    *logrus.Entry
	wg     sync.WaitGroup
	closed chan struct{}
}

// NewTCP starts a listener on peers[selfID] and returns a Transport ready to
// send/receive for the given peer set.
func NewTCP(selfID int, peers map[int]PeerAddr, log *logrus.Entry) (*TCP, error) {
	self, ok := peers[selfID]
	if !ok {
		return nil, errors.Errorf("transport: no peer config entry for self id %d", selfID)
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", self.Port))
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen")
	}
	t := &TCP{
		selfID:   selfID,
		peers:    peers,
		listener: ln,
		inbox:    make(chan Inbound, 256),
		log:      log.WithField("component", "transport"),
		closed:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

func (t *TCP) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.log.WithError(err).Warn("accept failed")
				return
			}
		}
		t.wg.Add(1)
		go t.handleConn(conn)
	}
}

func (t *TCP) handleConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	if t.isFailed() {
		return
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}
	if t.isFailed() {
		return
	}
	typ, msg, err := paxosmsg.Decode(line)
	if err != nil {
		t.log.WithError(err).Debug("dropping malformed message")
		return
	}
	select {
	case t.inbox <- Inbound{Type: typ, Message: msg}:
	case <-t.closed:
	}
}

func (t *TCP) isFailed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failed
}

// Send implements Transport.
func (t *TCP) Send(target int, typ paxosmsg.Type, msg interface{}) error {
	addr, ok := t.peers[target]
	if !ok {
		return errors.Errorf("transport: no peer config entry for id %d", target)
	}
	data, err := paxosmsg.Encode(typ, msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	corrID := uuid.NewString()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		timer := time.NewTimer(NetDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.closed:
			return
		}
		if t.isFailed() {
			return
		}
		conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
		if err != nil {
			t.log.WithFields(logrus.Fields{"to": target, "type": typ, "corr_id": corrID}).Debug("send: peer unreachable, dropping")
			return
		}
		defer conn.Close()
		if t.isFailed() {
			return
		}
		if _, err := conn.Write(data); err != nil {
			t.log.WithFields(logrus.Fields{"to": target, "type": typ, "corr_id": corrID}).Debug("send: write failed, dropping")
			return
		}
		t.log.WithFields(logrus.Fields{"to": target, "type": typ, "corr_id": corrID}).Trace("send: delivered")
	}()
	return nil
}

// Broadcast implements Transport.
func (t *TCP) Broadcast(typ paxosmsg.Type, msg interface{}) {
	for id := range t.peers {
		if id == t.selfID {
			continue
		}
		_ = t.Send(id, typ, msg)
	}
}

// Inbox implements Transport.
func (t *TCP) Inbox() <-chan Inbound { return t.inbox }

// SetFailed implements Transport.
func (t *TCP) SetFailed(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed = failed
}

// Close implements Transport.
func (t *TCP) Close() error {
	close(t.closed)
	err := t.listener.Close()
	t.wg.Wait()
	return err
}
