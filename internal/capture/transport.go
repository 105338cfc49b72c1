package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/rpcc"

	"shopcap/pkg/model"
)

const closeTimeout = 3 * time.Second

// Tab is one controlled browser page. Events delivers the tagged network
// event union until the tab is closed; the channel is closed on teardown.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	EnableDomains(ctx context.Context) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	SetTimezone(ctx context.Context, tz string) error
	GetResponseBody(ctx context.Context, requestID string) (body string, base64Encoded bool, err error)
	Events() <-chan model.NetEvent
	Close() error
}

// Browser is one attachment to a live browser transport.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Dialer opens a fresh browser attachment. The scheduler calls it once per
// session chunk so a recycled chunk gets a clean attachment.
type Dialer func(ctx context.Context) (Browser, error)

// DevToolsDialer attaches to a Chrome DevTools endpoint on the given port.
func DevToolsDialer(port int) Dialer {
	return func(ctx context.Context) (Browser, error) {
		dt := devtool.New(fmt.Sprintf("http://127.0.0.1:%d", port))
		if _, err := dt.Version(ctx); err != nil {
			return nil, fmt.Errorf("devtools endpoint on port %d: %w", port, err)
		}
		return &cdpBrowser{dt: dt}, nil
	}
}

type cdpBrowser struct {
	dt   *devtool.DevTools
	mu   sync.Mutex
	tabs []*cdpTab
}

func (b *cdpBrowser) NewTab(ctx context.Context) (Tab, error) {
	target, err := b.dt.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial target: %w", err)
	}
	tctx, cancel := context.WithCancel(context.Background())
	t := &cdpTab{
		dt:     b.dt,
		target: target,
		conn:   conn,
		client: cdp.NewClient(conn),
		ctx:    tctx,
		cancel: cancel,
		events: make(chan model.NetEvent, 256),
	}
	b.mu.Lock()
	b.tabs = append(b.tabs, t)
	b.mu.Unlock()
	return t, nil
}

func (b *cdpBrowser) Close() error {
	b.mu.Lock()
	tabs := b.tabs
	b.tabs = nil
	b.mu.Unlock()
	var first error
	for _, t := range tabs {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type cdpTab struct {
	dt     *devtool.DevTools
	target *devtool.Target
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	events chan model.NetEvent

	closeOnce sync.Once
	pumps     sync.WaitGroup
}

func (t *cdpTab) Navigate(ctx context.Context, url string) error {
	_, err := t.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	return err
}

// EnableDomains turns on the Network and Page event domains and starts the
// stream pumps feeding Events.
func (t *cdpTab) EnableDomains(ctx context.Context) error {
	if err := t.client.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("network enable: %w", err)
	}
	if err := t.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("page enable: %w", err)
	}
	return t.startPumps()
}

func (t *cdpTab) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	raw, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	return t.client.Network.SetExtraHTTPHeaders(ctx, network.NewSetExtraHTTPHeadersArgs(network.Headers(raw)))
}

func (t *cdpTab) SetTimezone(ctx context.Context, tz string) error {
	return t.client.Emulation.SetTimezoneOverride(ctx, emulation.NewSetTimezoneOverrideArgs(tz))
}

func (t *cdpTab) GetResponseBody(ctx context.Context, requestID string) (string, bool, error) {
	reply, err := t.client.Network.GetResponseBody(ctx, network.NewGetResponseBodyArgs(network.RequestID(requestID)))
	if err != nil {
		return "", false, err
	}
	return reply.Body, reply.Base64Encoded, nil
}

func (t *cdpTab) Events() <-chan model.NetEvent { return t.events }

// startPumps subscribes to the four event streams and converts replies into
// the neutral union. Each stream ends when the tab context is cancelled or
// the connection drops; the events channel closes after the last pump exits.
func (t *cdpTab) startPumps() error {
	reqs, err := t.client.Network.RequestWillBeSent(t.ctx)
	if err != nil {
		return err
	}
	resps, err := t.client.Network.ResponseReceived(t.ctx)
	if err != nil {
		reqs.Close()
		return err
	}
	fins, err := t.client.Network.LoadingFinished(t.ctx)
	if err != nil {
		reqs.Close()
		resps.Close()
		return err
	}
	navs, err := t.client.Page.FrameNavigated(t.ctx)
	if err != nil {
		reqs.Close()
		resps.Close()
		fins.Close()
		return err
	}

	t.pumps.Add(4)
	go func() {
		defer t.pumps.Done()
		defer reqs.Close()
		for {
			ev, err := reqs.Recv()
			if err != nil {
				return
			}
			t.deliver(model.NetEvent{
				Type:      model.EventRequestSent,
				RequestID: string(ev.RequestID),
				URL:       ev.Request.URL,
			})
		}
	}()
	go func() {
		defer t.pumps.Done()
		defer resps.Close()
		for {
			ev, err := resps.Recv()
			if err != nil {
				return
			}
			t.deliver(model.NetEvent{
				Type:      model.EventResponseReceived,
				RequestID: string(ev.RequestID),
				URL:       ev.Response.URL,
				Status:    ev.Response.Status,
				Headers:   decodeHeaders(ev.Response.Headers),
			})
		}
	}()
	go func() {
		defer t.pumps.Done()
		defer fins.Close()
		for {
			ev, err := fins.Recv()
			if err != nil {
				return
			}
			t.deliver(model.NetEvent{
				Type:      model.EventLoadingFinished,
				RequestID: string(ev.RequestID),
			})
		}
	}()
	go func() {
		defer t.pumps.Done()
		defer navs.Close()
		for {
			ev, err := navs.Recv()
			if err != nil {
				return
			}
			t.deliver(model.NetEvent{
				Type: model.EventFrameNavigated,
				URL:  ev.Frame.URL,
			})
		}
	}()
	go func() {
		t.pumps.Wait()
		close(t.events)
	}()
	return nil
}

func (t *cdpTab) deliver(ev model.NetEvent) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *cdpTab) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = t.dt.Close(ctx, t.target)
	})
	return err
}

// decodeHeaders normalizes the raw CDP header object to string→string.
func decodeHeaders(raw network.Headers) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
