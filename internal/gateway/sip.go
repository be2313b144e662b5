package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	psdp "github.com/pion/sdp/v3"
)

// SIPConfig holds direct SIP trunk settings.
type SIPConfig struct {
	// ListenAddr is the local SIP bind address, e.g. "0.0.0.0".
	ListenAddr string

	// Port is the local SIP port.
	Port int

	// AdvertiseAddr is the address placed in From/Contact headers.
	AdvertiseAddr string

	// TrunkAddr is the upstream trunk, "host:port".
	TrunkAddr string

	// FromUser is the caller identity (E.164 without scheme).
	FromUser string

	// MediaAddr and MediaPort are offered in the SDP. The media plane
	// itself is external; the gateway only signals.
	MediaAddr string
	MediaPort int

	// DialTimeout bounds the wait for a final response. Defaults to 60s.
	DialTimeout time.Duration
}

// sipCall tracks an in-dialog outbound call so an incoming BYE can be
// matched and answered.
type sipCall struct {
	callID        string
	remoteContact string
	remoteTag     string
	localTag      string
}

// SIPGateway places calls by sending INVITE directly to a SIP trunk.
// Responses and the remote BYE are translated into provider status
// events and delivered to the EventSink, so the orchestrator sees the
// same vocabulary as with the REST provider.
type SIPGateway struct {
	cfg    SIPConfig
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	sink EventSink

	mu    sync.RWMutex
	calls map[string]*sipCall // Call-ID -> dialog state

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSIPGateway creates a SIP trunk gateway. Call Start before placing
// calls and SetEventSink before Start.
func NewSIPGateway(cfg SIPConfig) (*SIPGateway, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 60 * time.Second
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	g := &SIPGateway{
		cfg:    cfg,
		ua:     ua,
		srv:    srv,
		client: client,
		calls:  make(map[string]*sipCall),
	}
	srv.OnRequest(sip.BYE, g.handleBYE)
	return g, nil
}

// SetEventSink registers the receiver for status events.
func (g *SIPGateway) SetEventSink(sink EventSink) {
	g.sink = sink
}

// Start begins listening for in-dialog requests (BYE from the remote
// party). Returns once the listener is running.
func (g *SIPGateway) Start(ctx context.Context) error {
	g.runCtx, g.cancel = context.WithCancel(ctx)

	listenAddr := fmt.Sprintf("%s:%d", g.cfg.ListenAddr, g.cfg.Port)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.srv.ListenAndServe(g.runCtx, "udp", listenAddr); err != nil {
			slog.Error("[SIPGateway] Listener stopped", "addr", listenAddr, "error", err)
		}
	}()

	slog.Info("[SIPGateway] Listening", "addr", listenAddr, "trunk", g.cfg.TrunkAddr)
	return nil
}

// Close stops the listener and releases SIP resources.
func (g *SIPGateway) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	err := g.ua.Close()
	g.wg.Wait()
	return err
}

// PlaceCall sends an INVITE to the trunk and returns the Call-ID as the
// provider call identifier. Progress is reported asynchronously.
func (g *SIPGateway) PlaceCall(ctx context.Context, number string) (string, error) {
	callID := uuid.New().String()
	localTag := uuid.New().String()[:8]

	invite, err := g.buildINVITE(number, callID, localTag)
	if err != nil {
		return "", rejected(number, 400, err.Error())
	}

	tx, err := g.client.TransactionRequest(ctx, invite)
	if err != nil {
		return "", unavailable(number, err)
	}

	g.mu.Lock()
	g.calls[callID] = &sipCall{callID: callID, localTag: localTag}
	g.mu.Unlock()

	slog.Info("[SIPGateway] INVITE sent", "call_id", callID, "to", number)

	g.wg.Add(1)
	go g.watchResponses(callID, invite, tx)

	return callID, nil
}

// buildINVITE constructs the outbound INVITE with an SDP offer.
func (g *SIPGateway) buildINVITE(number, callID, localTag string) (*sip.Request, error) {
	var requestURI sip.Uri
	target := fmt.Sprintf("sip:%s@%s", number, g.cfg.TrunkAddr)
	if err := sip.ParseUri(target, &requestURI); err != nil {
		return nil, fmt.Errorf("invalid target URI: %w", err)
	}

	invite := sip.NewRequest(sip.INVITE, requestURI)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", localTag)
	invite.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   g.cfg.FromUser,
			Host:   g.cfg.AdvertiseAddr,
			Port:   g.cfg.Port,
		},
		Params: fromParams,
	})

	invite.AppendHeader(&sip.ToHeader{
		Address: requestURI,
		Params:  sip.NewParams(),
	})

	callIDHdr := sip.CallIDHeader(callID)
	invite.AppendHeader(&callIDHdr)

	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})

	invite.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   "dialdesk",
			Host:   g.cfg.AdvertiseAddr,
			Port:   g.cfg.Port,
		},
	})

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)

	offer, err := g.buildOffer()
	if err != nil {
		return nil, fmt.Errorf("build SDP offer: %w", err)
	}
	invite.SetBody(offer)

	return invite, nil
}

// buildOffer creates the SDP body advertising the external media
// endpoint with PCMU.
func (g *SIPGateway) buildOffer() ([]byte, error) {
	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "dialdesk",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: g.cfg.MediaAddr,
		},
		SessionName: "DialDesk Call",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: g.cfg.MediaAddr},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: g.cfg.MediaPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0"},
				},
				Attributes: []psdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					{Key: "ptime", Value: "20"},
					{Key: "sendrecv"},
				},
			},
		},
	}
	return desc.Marshal()
}

// watchResponses consumes the INVITE transaction and emits status
// events until a final response arrives.
func (g *SIPGateway) watchResponses(callID string, invite *sip.Request, tx sip.ClientTransaction) {
	defer g.wg.Done()

	base := g.runCtx
	if base == nil {
		base = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(base, g.cfg.DialTimeout)
	defer cancel()

	for {
		select {
		case <-dialCtx.Done():
			slog.Info("[SIPGateway] Dial timeout", "call_id", callID)
			g.dropCall(callID)
			g.emit(callID, StatusNoAnswer)
			return

		case resp := <-tx.Responses():
			if resp == nil {
				g.dropCall(callID)
				g.emit(callID, StatusNoAnswer)
				return
			}
			if done := g.handleResponse(callID, invite, resp); done {
				return
			}

		case <-tx.Done():
			return
		}
	}
}

// handleResponse maps one SIP response to a status event. Returns true
// when the response was final.
func (g *SIPGateway) handleResponse(callID string, invite *sip.Request, resp *sip.Response) bool {
	statusCode := int(resp.StatusCode)

	slog.Debug("[SIPGateway] Response received",
		"call_id", callID,
		"status", statusCode,
		"reason", resp.Reason,
	)

	switch {
	case statusCode == 100:
		return false

	case statusCode == 180 || statusCode == 181 || statusCode == 183:
		g.emit(callID, StatusRinging)
		return false

	case statusCode >= 200 && statusCode < 300:
		g.recordDialog(callID, invite, resp)
		if err := g.sendACK(invite, resp); err != nil {
			slog.Error("[SIPGateway] Failed to send ACK", "call_id", callID, "error", err)
		}
		slog.Info("[SIPGateway] Call answered", "call_id", callID)
		g.emit(callID, StatusAnswered)
		return true

	case statusCode == 486 || statusCode == 600:
		g.dropCall(callID)
		g.emit(callID, StatusBusy)
		return true

	case statusCode == 480 || statusCode == 487 || statusCode == 408:
		g.dropCall(callID)
		g.emit(callID, StatusNoAnswer)
		return true

	case statusCode >= 300:
		slog.Info("[SIPGateway] Call rejected",
			"call_id", callID,
			"status", statusCode,
			"reason", resp.Reason,
		)
		g.dropCall(callID)
		g.emit(callID, StatusFailed)
		return true
	}

	return false
}

// recordDialog stores the dialog state learned from the 2xx so the
// remote BYE can be matched later.
func (g *SIPGateway) recordDialog(callID string, invite *sip.Request, resp *sip.Response) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.calls[callID]
	if !ok {
		return
	}
	if contact := resp.Contact(); contact != nil {
		c.remoteContact = contact.Address.String()
	}
	if to := resp.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok {
			c.remoteTag = tag
		}
	}
}

// sendACK acknowledges a 2xx. The ACK is a new request outside the
// INVITE transaction; the Request-URI comes from the Contact header of
// the response.
func (g *SIPGateway) sendACK(invite *sip.Request, resp *sip.Response) error {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)

	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)

	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{
			DisplayName: to.DisplayName,
			Address:     to.Address,
			Params:      to.Params,
		})
	}

	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{
			SeqNo:      cseq.SeqNo,
			MethodName: sip.ACK,
		})
	}

	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	destAddr := resp.Source()
	if destAddr == "" {
		port := requestURI.Port
		if port == 0 {
			port = 5060
		}
		destAddr = fmt.Sprintf("%s:%d", requestURI.Host, port)
	}
	ack.SetDestination(destAddr)

	if err := g.client.WriteRequest(ack); err != nil {
		return fmt.Errorf("write ACK: %w", err)
	}
	return nil
}

// handleBYE answers a remote hangup for a tracked call and reports the
// call completed.
func (g *SIPGateway) handleBYE(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if req.CallID() != nil {
		callID = string(*req.CallID())
	}

	g.mu.RLock()
	_, tracked := g.calls[callID]
	g.mu.RUnlock()

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	if err := tx.Respond(resp); err != nil {
		slog.Error("[SIPGateway] Failed to respond to BYE", "call_id", callID, "error", err)
	}

	if !tracked {
		slog.Debug("[SIPGateway] BYE for unknown call", "call_id", callID)
		return
	}

	slog.Info("[SIPGateway] Remote hangup", "call_id", callID)
	g.dropCall(callID)
	g.emit(callID, StatusCompleted)
}

func (g *SIPGateway) dropCall(callID string) {
	g.mu.Lock()
	delete(g.calls, callID)
	g.mu.Unlock()
}

func (g *SIPGateway) emit(callID, status string) {
	if g.sink == nil {
		return
	}
	g.sink.HandleProviderEvent(callID, status)
}
