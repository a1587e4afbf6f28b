package natscomm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/dist-stencil/collcomm"
	"golang.org/x/sync/errgroup"
)

func startServer(t *testing.T) string {
	t.Helper()
	opts := &server.Options{
		Host:  "127.0.0.1",
		Port:  -1,
		NoLog: true,
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func connect(t *testing.T, url string) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// runCohort dials size ranks, each on its own connection,
// and runs f on each of them concurrently.
func runCohort(t *testing.T, url string, size int, cfg Config, f func(ctx context.Context, c *Comm) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	conns := make([]*nats.Conn, size)
	for i := range conns {
		conns[i] = connect(t, url)
	}
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		rankCfg := cfg
		rankCfg.Rank = rank
		rankCfg.Size = size
		nc := conns[rank]
		g.Go(func() error {
			c, err := Dial(ctx, nc, rankCfg)
			if err != nil {
				return err
			}
			defer c.Close()
			return f(ctx, c)
		})
	}
	require.NoError(t, g.Wait())
}

func TestCollectivesOverNATS(t *testing.T) {
	url := startServer(t)
	for _, size := range []int{1, 2, 4} {
		for _, compress := range []bool{false, true} {
			name := fmt.Sprintf("Size=%d,Compress=%v", size, compress)
			t.Run(name, func(t *testing.T) {
				cfg := Config{
					RunID:        fmt.Sprintf("coll-%d-%v", size, compress),
					Compress:     compress,
					MaxFrameBody: 64,
				}
				// 50 cells per rank spans several frames.
				layout := collcomm.Layout{Counts: make([]int, size), Offsets: make([]int, size)}
				send := make([]int32, size*50)
				for i := range send {
					send[i] = int32(i*31 - 700)
				}
				for i := range layout.Counts {
					layout.Counts[i] = 50
					layout.Offsets[i] = i * 50
				}

				runCohort(t, url, size, cfg, func(ctx context.Context, c *Comm) error {
					var vec []int32
					if c.Rank() == 0 {
						vec = []int32{int32(size), 7}
					}
					got, err := collcomm.Bcast(ctx, c, 0, vec)
					if err != nil {
						return err
					}
					assert.Equal(t, []int32{int32(size), 7}, got)

					var buf []int32
					if c.Rank() == 0 {
						buf = send
					}
					local, err := collcomm.Scatterv(ctx, c, 0, buf, layout)
					if err != nil {
						return err
					}
					assert.Equal(t, send[c.Rank()*50:(c.Rank()+1)*50], local)

					for i := range local {
						local[i] *= 2
					}
					gathered, err := collcomm.Gatherv(ctx, c, 0, local, layout, len(send))
					if err != nil {
						return err
					}
					if c.Rank() == 0 {
						for i, x := range send {
							if gathered[i] != 2*x {
								return fmt.Errorf("cell %d: expected %d but got %d", i, 2*x, gathered[i])
							}
						}
					}
					return nil
				})
			})
		}
	}
}

func TestAbortOverNATS(t *testing.T) {
	url := startServer(t)
	runCohort(t, url, 3, Config{RunID: "abort"}, func(ctx context.Context, c *Comm) error {
		if c.Rank() == 2 {
			collcomm.Abort(ctx, c, fmt.Errorf("out of memory"))
			return nil
		}
		_, err := collcomm.Bcast(ctx, c, 0, []int32{1})
		if err == nil {
			// The root only sends, and rank 1 may get the
			// broadcast first; either way the abort shows up
			// on the next receive.
			_, err = c.Recv(ctx, collcomm.AnySource, collcomm.TagGather)
		}
		var abortErr *collcomm.AbortError
		if assert.ErrorAs(t, err, &abortErr) {
			assert.Equal(t, 2, abortErr.Source)
			assert.Equal(t, "out of memory", abortErr.Reason)
		}
		return nil
	})
}

func TestJoinTimeout(t *testing.T) {
	url := startServer(t)
	nc := connect(t, url)
	_, err := Dial(context.Background(), nc, Config{
		RunID:       "lonely",
		Rank:        0,
		Size:        2,
		JoinTimeout: 300 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrJoinTimeout)

	_, err = Dial(context.Background(), nc, Config{
		RunID:       "lonely",
		Rank:        1,
		Size:        2,
		JoinTimeout: 300 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrJoinTimeout)
}

func TestJoinTimeoutNamesMissingRanks(t *testing.T) {
	url := startServer(t)
	cfg := Config{RunID: "partial", Size: 3, JoinTimeout: time.Second}

	peerConn := connect(t, url)
	done := make(chan struct{})
	go func() {
		defer close(done)
		peer := cfg
		peer.Rank = 1
		Dial(context.Background(), peerConn, peer)
	}()

	_, err := Dial(context.Background(), connect(t, url), cfg)
	require.ErrorIs(t, err, ErrJoinTimeout)
	assert.Contains(t, err.Error(), "missing ranks [2]")
	<-done
}

func TestRecvHonorsContext(t *testing.T) {
	url := startServer(t)
	nc := connect(t, url)
	c, err := Dial(context.Background(), nc, Config{RunID: "solo", Size: 1})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Recv(ctx, 0, collcomm.TagBcast)
	assert.ErrorIs(t, err, collcomm.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialInvalidConfig(t *testing.T) {
	url := startServer(t)
	nc := connect(t, url)
	ctx := context.Background()

	_, err := Dial(ctx, nc, Config{Size: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Dial(ctx, nc, Config{RunID: "x", Size: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = Dial(ctx, nc, Config{RunID: "x", Rank: 3, Size: 2})
	assert.ErrorIs(t, err, collcomm.ErrInvalidRank)
}
