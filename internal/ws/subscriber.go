package ws

import "sync/atomic"

var lastSubscriberID atomic.Int64

// Subscriber is one connected feed client. messc buffers published events;
// closeSlow drops the connection when the buffer is full
type Subscriber struct {
	id        int64
	messc     chan []byte
	closeSlow func()
}

func NewSubscriber(messc chan []byte, closeSlow func()) *Subscriber {
	return &Subscriber{
		id:        lastSubscriberID.Add(1),
		messc:     messc,
		closeSlow: closeSlow,
	}
}

func (s *Subscriber) ID() int64 { return s.id }
