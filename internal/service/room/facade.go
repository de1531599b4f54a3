package room

import (
	"context"
	"slices"
	"sync"

	"github.com/zhouzirui/roomchat/internal/model/chat"
	chatservice "github.com/zhouzirui/roomchat/internal/service/chat"
)

// Connector is the part of Manager the facade drives.
type Connector interface {
	Join(ctx context.Context, room string) error
	Leave(room string)
	Status() Status
	OnStatus(fn func(Status)) (cancel func())
}

// ReadModel is the consumer-facing snapshot of store and connection state.
type ReadModel struct {
	Messages   []chat.Message `json:"messages"`
	Connected  bool           `json:"connected"`
	ActiveRoom *string        `json:"activeRoom"`
}

// Facade derives read models from the store and the connection status and
// pushes a fresh one to every subscriber after each change.
type Facade struct {
	connector Connector
	store     *chatservice.Store

	mu         sync.Mutex
	connected  bool
	activeRoom string
	hasRoom    bool
	subs       map[*Subscription]struct{}
	roomSubs   map[string]int
	unhook     []func()
}

// NewFacade subscribes to store and connector changes.
func NewFacade(connector Connector, store *chatservice.Store) *Facade {
	f := &Facade{
		connector: connector,
		store:     store,
		subs:      make(map[*Subscription]struct{}),
		roomSubs:  make(map[string]int),
	}
	f.applyStatus(connector.Status())
	f.unhook = []func(){
		store.OnChange(f.recompute),
		connector.OnStatus(func(status Status) {
			f.mu.Lock()
			f.applyStatus(status)
			f.publishLocked()
			f.mu.Unlock()
		}),
	}
	return f
}

// MessagesForRoom returns the sorted messages when room is the active room
// and an empty slice otherwise.
func (f *Facade) MessagesForRoom(room string) []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messagesLocked(room)
}

// IsConnected reports whether the active connection is open.
func (f *Facade) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// ActiveRoom returns the room of the last opened connection.
func (f *Facade) ActiveRoom() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeRoom, f.hasRoom
}

// Snapshot builds the read model for room.
func (f *Facade) Snapshot(room string) ReadModel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(room)
}

// Subscribe registers interest in room. The room is joined when this is its
// first subscriber or when no live connection to it exists, so subscribing
// again after a drop reconnects. Closing the last subscription leaves it.
func (f *Facade) Subscribe(ctx context.Context, room string) (*Subscription, error) {
	sub := &Subscription{
		facade:  f,
		room:    room,
		updates: make(chan ReadModel, 1),
	}

	status := f.connector.Status()
	live := status.Room == room && status.State.Live()

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.roomSubs[room]++
	first := f.roomSubs[room] == 1
	sub.push(f.snapshotLocked(room))
	f.mu.Unlock()

	if first || !live {
		if err := f.connector.Join(ctx, room); err != nil {
			f.unsubscribe(sub, false)
			return nil, err
		}
	}
	return sub, nil
}

// Close detaches the facade from its sources.
func (f *Facade) Close() {
	for _, fn := range f.unhook {
		fn()
	}
}

func (f *Facade) recompute() {
	f.mu.Lock()
	f.publishLocked()
	f.mu.Unlock()
}

func (f *Facade) applyStatus(status Status) {
	f.connected = status.Connected
	if status.Connected {
		f.activeRoom = status.Room
		f.hasRoom = true
	}
}

func (f *Facade) publishLocked() {
	for sub := range f.subs {
		sub.push(f.snapshotLocked(sub.room))
	}
}

func (f *Facade) snapshotLocked(room string) ReadModel {
	model := ReadModel{
		Messages:  f.messagesLocked(room),
		Connected: f.connected,
	}
	if f.hasRoom {
		active := f.activeRoom
		model.ActiveRoom = &active
	}
	return model
}

func (f *Facade) messagesLocked(room string) []chat.Message {
	if !f.hasRoom || f.activeRoom != room {
		return []chat.Message{}
	}
	return slices.Collect(f.store.AllSorted())
}

func (f *Facade) unsubscribe(sub *Subscription, leave bool) {
	f.mu.Lock()
	if _, ok := f.subs[sub]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.subs, sub)
	close(sub.updates)
	f.roomSubs[sub.room]--
	last := f.roomSubs[sub.room] == 0
	if last {
		delete(f.roomSubs, sub.room)
	}
	f.mu.Unlock()

	if last && leave {
		f.connector.Leave(sub.room)
	}
}

// Subscription is one consumer's view of a room.
type Subscription struct {
	facade  *Facade
	room    string
	updates chan ReadModel
}

// Room returns the subscribed room.
func (s *Subscription) Room() string { return s.room }

// Updates delivers the latest read model. Intermediate models are dropped
// when the consumer falls behind; the channel closes on Close.
func (s *Subscription) Updates() <-chan ReadModel { return s.updates }

// Close ends the subscription.
func (s *Subscription) Close() {
	s.facade.unsubscribe(s, true)
}

func (s *Subscription) push(model ReadModel) {
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- model:
	default:
	}
}
