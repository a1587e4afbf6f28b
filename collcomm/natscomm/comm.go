// Package natscomm implements a collcomm.Communicator on
// top of NATS core subjects.
//
// Every rank subscribes to prefix.<run>.<rank> and
// publishes to its peers' subjects. Packets larger than
// the server's max payload are split into frames.
package natscomm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/unixpickle/dist-stencil/collcomm"
)

const (
	DefaultPrefix      = "stencil"
	DefaultJoinTimeout = 30 * time.Second

	joinRetryInterval = 250 * time.Millisecond
)

// Config identifies a rank and the cohort it joins.
type Config struct {
	// RunID separates concurrent cohorts on one server.
	RunID string

	Rank int
	Size int

	// Prefix is the first subject token.
	// Defaults to DefaultPrefix.
	Prefix string

	// Compress enables zstd compression of packet bodies.
	Compress bool

	// JoinTimeout bounds the join barrier.
	// Defaults to DefaultJoinTimeout.
	JoinTimeout time.Duration

	// MaxFrameBody caps the body bytes of a single frame.
	// Zero means the server's max payload.
	MaxFrameBody int
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.RunID == "" {
		return fmt.Errorf("%w: empty run id", ErrInvalidConfig)
	}
	if c.Size <= 0 {
		return fmt.Errorf("%w: cohort size %d", ErrInvalidConfig, c.Size)
	}
	if c.Rank < 0 || c.Rank >= c.Size {
		return fmt.Errorf("%w: rank %d of %d", collcomm.ErrInvalidRank, c.Rank, c.Size)
	}
	if c.MaxFrameBody < 0 {
		return fmt.Errorf("%w: max frame body %d", ErrInvalidConfig, c.MaxFrameBody)
	}
	return nil
}

// Comm is one rank's NATS-backed view of a cohort.
type Comm struct {
	nc      *nats.Conn
	cfg     Config
	maxBody int

	sub     *nats.Subscription
	joinSub *nats.Subscription

	assembler assembler
	mailbox   collcomm.Mailbox
}

var _ collcomm.Communicator = (*Comm)(nil)

// Dial subscribes to this rank's subject and waits at the
// join barrier until every rank of the cohort is
// subscribed, so that no packet is published before its
// receiver is listening.
//
// The connection remains owned by the caller.
func Dial(ctx context.Context, nc *nats.Conn, cfg Config) (*Comm, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	maxBody := int(nc.MaxPayload()) - frameHeaderSize
	if cfg.MaxFrameBody > 0 && cfg.MaxFrameBody < maxBody {
		maxBody = cfg.MaxFrameBody
	}
	if maxBody <= 0 {
		return nil, fmt.Errorf("%w: max payload %d", ErrInvalidConfig, nc.MaxPayload())
	}

	c := &Comm{nc: nc, cfg: cfg, maxBody: maxBody}
	sub, err := nc.SubscribeSync(c.subject(cfg.Rank))
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %w", collcomm.ErrTransport, err)
	}
	// Scatter bursts can exceed the default limits while
	// this rank is still busy.
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%w: pending limits: %w", collcomm.ErrTransport, err)
	}
	c.sub = sub

	joinCtx, cancel := context.WithTimeout(ctx, cfg.JoinTimeout)
	defer cancel()
	if cfg.Rank == 0 {
		err = c.hostJoin(joinCtx)
	} else {
		err = c.requestJoin(joinCtx)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Rank returns this rank's index in the cohort.
func (c *Comm) Rank() int {
	return c.cfg.Rank
}

// Size returns the number of ranks in the cohort.
func (c *Comm) Size() int {
	return c.cfg.Size
}

// Send publishes a packet to dst's subject.
func (c *Comm) Send(ctx context.Context, dst int, p *collcomm.Packet) error {
	if dst < 0 || dst >= c.cfg.Size {
		return fmt.Errorf("%w: destination %d", collcomm.ErrInvalidRank, dst)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := c.subject(dst)
	for _, frame := range encodeFrames(p, c.cfg.Rank, c.cfg.Compress, c.maxBody) {
		if err := c.nc.Publish(subject, frame); err != nil {
			return fmt.Errorf("%w: publish to rank %d: %w", collcomm.ErrTransport, dst, err)
		}
	}
	return nil
}

// Recv waits for a packet from src with the given tag.
// It returns early if ctx is done.
func (c *Comm) Recv(ctx context.Context, src int, tag collcomm.Tag) (*collcomm.Packet, error) {
	return c.mailbox.Recv(src, tag, func() (*collcomm.Packet, error) {
		for {
			msg, err := c.sub.NextMsgWithContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: receive: %w", collcomm.ErrTransport, err)
			}
			p, err := c.assembler.Add(msg.Data)
			if err != nil {
				return nil, err
			}
			if p != nil {
				return p, nil
			}
		}
	})
}

// Close flushes outgoing packets and drops the
// subscriptions. It does not close the connection.
func (c *Comm) Close() error {
	var errs []error
	if c.joinSub != nil {
		errs = append(errs, c.joinSub.Unsubscribe())
	}
	if err := c.nc.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, err)
	}
	if c.sub != nil {
		errs = append(errs, c.sub.Unsubscribe())
	}
	return errors.Join(errs...)
}

func (c *Comm) subject(rank int) string {
	return fmt.Sprintf("%s.%s.%d", c.cfg.Prefix, c.cfg.RunID, rank)
}

func (c *Comm) joinSubject() string {
	return fmt.Sprintf("%s.%s.join", c.cfg.Prefix, c.cfg.RunID)
}

// hostJoin collects a join request from every other rank
// and answers them all once the cohort is complete.
func (c *Comm) hostJoin(ctx context.Context) error {
	if c.cfg.Size == 1 {
		return nil
	}
	joined := xsync.NewMap[int, *nats.Msg]()
	complete := make(chan struct{})
	var closed bool

	// Handlers on one subscription run sequentially.
	sub, err := c.nc.Subscribe(c.joinSubject(), func(msg *nats.Msg) {
		rank, err := strconv.Atoi(string(msg.Data))
		if err != nil || rank <= 0 || rank >= c.cfg.Size {
			return
		}
		if closed {
			msg.Respond([]byte("ok"))
			return
		}
		// A retried request replaces the stale one.
		joined.Store(rank, msg)
		if joined.Size() == c.cfg.Size-1 {
			joined.Range(func(_ int, m *nats.Msg) bool {
				m.Respond([]byte("ok"))
				return true
			})
			closed = true
			close(complete)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: join subscribe: %w", collcomm.ErrTransport, err)
	}
	c.joinSub = sub
	if err := c.nc.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", collcomm.ErrTransport, err)
	}

	select {
	case <-complete:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: missing ranks %v: %w", ErrJoinTimeout, missingRanks(joined, c.cfg.Size),
			ctx.Err())
	}
}

// missingRanks lists the non-root ranks that have not
// joined. It may run while the join handler is storing.
func missingRanks(joined *xsync.Map[int, *nats.Msg], size int) []int {
	var missing []int
	for rank := 1; rank < size; rank++ {
		if _, ok := joined.Load(rank); !ok {
			missing = append(missing, rank)
		}
	}
	return missing
}

// requestJoin asks rank 0 to admit this rank, retrying
// until the root is listening and the cohort is complete.
func (c *Comm) requestJoin(ctx context.Context) error {
	if err := c.nc.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %w", collcomm.ErrTransport, err)
	}
	payload := []byte(strconv.Itoa(c.cfg.Rank))
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, joinRetryInterval)
		_, err := c.nc.RequestWithContext(attemptCtx, c.joinSubject(), payload)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: rank %d: %w", ErrJoinTimeout, c.cfg.Rank, ctx.Err())
		}
		if !errors.Is(err, nats.ErrNoResponders) && !errors.Is(err, context.DeadlineExceeded) &&
			!errors.Is(err, nats.ErrTimeout) {
			return fmt.Errorf("%w: join: %w", collcomm.ErrTransport, err)
		}
		if errors.Is(err, nats.ErrNoResponders) {
			select {
			case <-time.After(joinRetryInterval):
			case <-ctx.Done():
				return fmt.Errorf("%w: rank %d: %w", ErrJoinTimeout, c.cfg.Rank, ctx.Err())
			}
		}
	}
}
