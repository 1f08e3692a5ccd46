package server

import (
	"context"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turbo-rpc/client"
	"turbo-rpc/connstate"
	"turbo-rpc/dispatch"
	"turbo-rpc/transport"
)

type msgParams struct {
	_   struct{} `cbor:",toarray"`
	Msg string
}

func testTable(t *testing.T, peers chan net.Addr) *dispatch.Table {
	t.Helper()
	table := dispatch.NewTable(nil)
	require.NoError(t, table.Register(
		dispatch.Unary("echo", func(ctx context.Context, call *dispatch.Call, p msgParams) (string, error) {
			return p.Msg, nil
		}),
		dispatch.Unary("whoami", func(ctx context.Context, call *dispatch.Call, p struct{}) (string, error) {
			return call.Conn.UserAgent, nil
		}),
		dispatch.Unary("increment", func(ctx context.Context, call *dispatch.Call, p struct{}) (int, error) {
			var n int
			err := connstate.With(ctx, call.Conn.State, "counter", func(v *int) error {
				*v++
				n = *v
				return nil
			})
			return n, err
		}),
		dispatch.Unary("greet_back", func(ctx context.Context, call *dispatch.Call, p msgParams) (string, error) {
			return client.Call[msgParams, string](ctx, call.Conn.Remote, "client.greet", p)
		}),
		dispatch.Unary("remember", func(ctx context.Context, call *dispatch.Call, p struct{}) (bool, error) {
			peers <- call.Conn.RemoteAddr
			return true, nil
		}),
		dispatch.Stream("ticks", func(ctx context.Context, call *dispatch.Call, p struct{}) iter.Seq2[int, error] {
			return func(yield func(int, error) bool) {
				for i := 0; ; i++ {
					select {
					case <-ctx.Done():
						return
					case <-time.After(5 * time.Millisecond):
					}
					if !yield(i, nil) {
						return
					}
				}
			}
		}),
	))
	return table
}

func clientTable(t *testing.T) *dispatch.Table {
	t.Helper()
	table := dispatch.NewTable(nil)
	require.NoError(t, table.Register(dispatch.Unary("client.greet", func(ctx context.Context, call *dispatch.Call, p msgParams) (string, error) {
		return "hello, " + p.Msg, nil
	})))
	return table
}

func startHTTP(t testing.TB, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + DefaultPath
}

func dial(t *testing.T, url string, table *dispatch.Table, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.Dial(context.Background(), url, table, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServeWebSocket(t *testing.T) {
	srv := New(testTable(t, nil))
	url := startHTTP(t, srv)
	c := dial(t, url, nil, client.WithUserAgent("server-test/1.0"))
	ctx := context.Background()

	msg, err := client.Call[msgParams, string](ctx, c, "echo", msgParams{Msg: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", msg)

	ua, err := client.Call[struct{}, string](ctx, c, "whoami", struct{}{})
	require.NoError(t, err)
	require.Equal(t, "server-test/1.0", ua)
	require.Equal(t, 1, srv.Sessions())

	resp, err := http.Get("http" + strings.TrimPrefix(strings.TrimSuffix(url, DefaultPath), "ws") + "/elsewhere")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConnectionLocalStatePerSocket(t *testing.T) {
	url := startHTTP(t, New(testTable(t, nil)))
	a, b := dial(t, url, nil), dial(t, url, nil)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := client.Call[struct{}, int](ctx, a, "increment", struct{}{})
		require.NoError(t, err)
		require.Equal(t, want, n)
	}
	n, err := client.Call[struct{}, int](ctx, b, "increment", struct{}{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHandlerCallsBackIntoClient(t *testing.T) {
	url := startHTTP(t, New(testTable(t, nil)))
	c := dial(t, url, clientTable(t), client.WithCallTimeout(2*time.Second))

	msg, err := client.Call[msgParams, string](context.Background(), c, "greet_back", msgParams{Msg: "server"})
	require.NoError(t, err)
	require.Equal(t, "hello, server", msg)
}

func TestServeUDP(t *testing.T) {
	srv := New(testTable(t, make(chan net.Addr, 1)))
	_, err := srv.UDPRemote(&net.UDPAddr{})
	require.ErrorIs(t, err, ErrNoUDP)

	conn, err := transport.ListenUDP("127.0.0.1:0", 0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.ServeUDP(ctx, conn) }()

	c, err := client.DialUDP(conn.LocalAddr().String(), nil, client.WithCallTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Close()

	msg, err := client.Call[msgParams, string](context.Background(), c, "echo", msgParams{Msg: "datagram"})
	require.NoError(t, err)
	require.Equal(t, "datagram", msg)
	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, time.Second, time.Millisecond)

	other, err := transport.ListenUDP("127.0.0.1:0", 0)
	require.NoError(t, err)
	require.ErrorIs(t, srv.ServeUDP(ctx, other), ErrUDPServing)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeUDP did not return")
	}
}

func TestUDPRemoteCallsPeer(t *testing.T) {
	peers := make(chan net.Addr, 1)
	srv := New(testTable(t, peers))

	conn, err := transport.ListenUDP("127.0.0.1:0", 0)
	require.NoError(t, err)
	go srv.ServeUDP(context.Background(), conn)
	defer srv.Shutdown(context.Background())

	c, err := client.DialUDP(conn.LocalAddr().String(), clientTable(t), client.WithCallTimeout(2*time.Second))
	require.NoError(t, err)
	defer c.Close()

	ok, err := client.Call[struct{}, bool](context.Background(), c, "remember", struct{}{})
	require.NoError(t, err)
	require.True(t, ok)
	peer := <-peers

	remote, err := srv.UDPRemote(peer)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := client.Call[msgParams, string](ctx, remote, "client.greet", msgParams{Msg: "udp peer"})
	require.NoError(t, err)
	require.Equal(t, "hello, udp peer", msg)
}

func TestShutdown(t *testing.T) {
	srv := New(testTable(t, nil))
	url := startHTTP(t, srv)
	c := dial(t, url, nil)

	ticks := client.Stream[struct{}, int](c, "ticks", struct{}{})
	got := make(chan int, 64)
	unsub := ticks.Subscribe(func(v int, err error) {
		if err == nil {
			select {
			case got <- v:
			default:
			}
		}
	})
	defer unsub()
	<-got

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.Equal(t, 0, srv.Sessions())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client still connected after shutdown")
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, DefaultPath, nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	udp, err := transport.ListenUDP("127.0.0.1:0", 0)
	require.NoError(t, err)
	require.ErrorIs(t, srv.ServeUDP(context.Background(), udp), ErrServerClosed)
}
