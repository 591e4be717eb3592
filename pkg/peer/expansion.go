package peer

import (
	"context"
	"sync"
	"time"

	"github.com/alljoyn-go/securepeer/pkg/compression"
	"github.com/alljoyn-go/securepeer/pkg/wire"
	"github.com/cenkalti/backoff"
)

// expansionTimeout bounds a GetExpansion round trip. A peer that never
// answers (or stalls deliberately) must not be able to wedge the header
// decompression path indefinitely; treating it as a DoS surface, per
// §4.G's expansion-handling note.
const expansionTimeout = time.Second

// expansionQueue tracks unknown compression tokens seen on incoming
// messages: one background GetExpansion lookup per (sender, token) pair,
// with messages referencing that token held until the lookup resolves (or
// is silently dropped on failure/timeout).
type expansionQueue struct {
	peer  *Peer
	depth int

	mu      sync.Mutex
	pending map[expansionKey]*pendingExpansion
}

type expansionKey struct {
	sender string
	token  uint32
}

type pendingExpansion struct {
	waiters []func(compression.Fields, bool)
}

func newExpansionQueue(p *Peer, depth int) *expansionQueue {
	return &expansionQueue{
		peer:    p,
		depth:   depth,
		pending: make(map[expansionKey]*pendingExpansion),
	}
}

// ResolveToken looks up token in the local compression table; if unknown,
// it queues onReady to run once a background GetExpansion call resolves it
// (or drops it silently on failure, matching the teacher's "never surface
// a decompression failure as a security violation" stance for this
// specific path, since an unexpansion compression token is just a cache
// miss, not an attack in itself).
func (p *Peer) ResolveToken(ctx context.Context, sender string, token uint32, onReady func(compression.Fields, bool)) {
	if fields, ok := p.compression.Expansion(token); ok {
		onReady(fields, true)
		return
	}
	p.expansion.enqueue(ctx, sender, token, onReady)
}

func (q *expansionQueue) enqueue(ctx context.Context, sender string, token uint32, onReady func(compression.Fields, bool)) {
	key := expansionKey{sender: sender, token: token}

	q.mu.Lock()
	if entry, exists := q.pending[key]; exists {
		entry.waiters = append(entry.waiters, onReady)
		q.mu.Unlock()
		return
	}
	if len(q.pending) >= q.depth {
		q.mu.Unlock()
		onReady(compression.Fields{}, false)
		return
	}
	entry := &pendingExpansion{waiters: []func(compression.Fields, bool){onReady}}
	q.pending[key] = entry
	q.mu.Unlock()

	go q.resolve(ctx, sender, token, key)
}

// resolve retries the GetExpansion round trip with exponential backoff,
// bounded overall by expansionTimeout: it is the one RPC in this package
// that may legitimately retry instead of failing its suspension point on
// the first attempt, since a transient drop here just delays a cache
// fill rather than forfeiting an in-flight authentication conversation.
func (q *expansionQueue) resolve(ctx context.Context, sender string, token uint32, key expansionKey) {
	reqCtx, cancel := context.WithTimeout(ctx, expansionTimeout)
	defer cancel()

	var reply wire.GetExpansionReply
	op := func() error {
		var err error
		reply, err = q.peer.transport.GetExpansion(reqCtx, sender, token)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = expansionTimeout
	err := backoff.Retry(op, b)

	q.mu.Lock()
	entry := q.pending[key]
	delete(q.pending, key)
	q.mu.Unlock()
	if entry == nil {
		return
	}

	if err != nil || len(reply.Fields) == 0 {
		for _, w := range entry.waiters {
			w(compression.Fields{}, false)
		}
		return
	}

	fields := decodeExpansionFields(reply.Fields)
	q.peer.compression.AddExpansion(fields, token)
	for _, w := range entry.waiters {
		w(fields, true)
	}
}

// Header field IDs, matching the DBus header-field numbering used by
// ajn::HeaderFields (PATH through SIGNATURE occupy 1-8; only the
// compressible subset is handled here).
const (
	fieldPath        byte = 1
	fieldInterface   byte = 2
	fieldMember      byte = 3
	fieldDestination byte = 6
	fieldSender      byte = 7
	fieldSignature   byte = 8
)

// EncodeExpansionFields is decodeExpansionFields' counterpart: it maps a
// locally known Fields set onto the wire (id, value) pairs a GetExpansion
// reply carries, for the bus-method dispatcher answering a remote peer's
// expansion request.
func EncodeExpansionFields(f compression.Fields) []wire.ExpansionField {
	var out []wire.ExpansionField
	if f.Path != "" {
		out = append(out, wire.ExpansionField{ID: fieldPath, Value: []byte(f.Path)})
	}
	if f.Interface != "" {
		out = append(out, wire.ExpansionField{ID: fieldInterface, Value: []byte(f.Interface)})
	}
	if f.Member != "" {
		out = append(out, wire.ExpansionField{ID: fieldMember, Value: []byte(f.Member)})
	}
	if f.Destination != "" {
		out = append(out, wire.ExpansionField{ID: fieldDestination, Value: []byte(f.Destination)})
	}
	if f.Sender != "" {
		out = append(out, wire.ExpansionField{ID: fieldSender, Value: []byte(f.Sender)})
	}
	if f.Signature != "" {
		out = append(out, wire.ExpansionField{ID: fieldSignature, Value: []byte(f.Signature)})
	}
	return out
}

// decodeExpansionFields maps the wire (id, value) pairs from GetExpansion
// onto compression.Fields.
func decodeExpansionFields(raw []wire.ExpansionField) compression.Fields {
	var f compression.Fields
	for _, field := range raw {
		switch field.ID {
		case fieldPath:
			f.Path = string(field.Value)
		case fieldInterface:
			f.Interface = string(field.Value)
		case fieldMember:
			f.Member = string(field.Value)
		case fieldDestination:
			f.Destination = string(field.Value)
		case fieldSender:
			f.Sender = string(field.Value)
		case fieldSignature:
			f.Signature = string(field.Value)
		}
	}
	return f
}
