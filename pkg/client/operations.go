package client

import (
	"context"
	"net/netip"
	"time"

	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"go.uber.org/zap"
)

// expect sends req and narrows the answer to the variant the catalog pairs
// with it. Any other valid variant is a KindUnexpectedResponse error.
func expect[T messages.Response](ctx context.Context, c *Client, req messages.Request) (T, error) {
	var zero T
	op := req.RequestType()
	start := time.Now()

	resp, err := c.do(ctx, req)
	if err == nil && resp.ResponseType() != op.Expects() {
		c.logger.Warn("unexpected response",
			zap.String("operation", string(op)),
			zap.String("want", string(op.Expects())),
			zap.String("got", string(resp.ResponseType())),
		)
		err = unexpectedResponse(op, resp)
	}
	observeCall(op, err, time.Since(start))
	if err != nil {
		return zero, err
	}

	v, ok := resp.(T)
	if !ok {
		return zero, unexpectedResponse(op, resp)
	}
	return v, nil
}

// GetControlAddr returns the address of the tunnel control channel.
func (c *Client) GetControlAddr(ctx context.Context) (netip.AddrPort, error) {
	resp, err := expect[*messages.ControlAddress](ctx, c, messages.GetControlAddr{})
	if err != nil {
		return netip.AddrPort{}, err
	}
	addr, err := netip.ParseAddrPort(resp.ControlAddress)
	if err != nil {
		return netip.AddrPort{}, parseError(messages.RequestGetControlAddr, err)
	}
	return addr, nil
}

// SignTunnelRequest has the control plane sign req. The signature is opaque
// and is handed to the tunnel server as is.
func (c *Client) SignTunnelRequest(ctx context.Context, req messages.TunnelRequest) (*messages.SignedRPCRequest[messages.TunnelRequest], error) {
	resp, err := expect[*messages.SignedTunnelRequest](ctx, c, messages.SignControlRequest(req))
	if err != nil {
		return nil, err
	}
	return (*messages.SignedRPCRequest[messages.TunnelRequest])(resp), nil
}

// GenerateSharedTunnelSecret exchanges a tunnel registration for the session
// secret shared between the agent and the tunnel server.
func (c *Client) GenerateSharedTunnelSecret(ctx context.Context, registered messages.AgentRegistered) (*messages.SessionSecret, error) {
	return expect[*messages.SessionSecret](ctx, c, messages.GenerateSharedTunnelSecret(registered))
}

// TryExchangeClaimForSecret trades claimKey for the agent secret.
//
// A claim that has not been accepted yet is answered with a 404 error object;
// that case returns ok == false and a nil error. Every other failure is
// returned as an *Error.
func (c *Client) TryExchangeClaimForSecret(ctx context.Context, claimKey string) (secret string, ok bool, err error) {
	resp, err := expect[*messages.AgentSecret](ctx, c, messages.ExchangeClaimForSecret{ClaimKey: claimKey})
	switch {
	case err == nil:
		return resp.SecretKey, true, nil
	case IsNotFound(err):
		c.logger.Debug("claim not accepted yet")
		return "", false, nil
	}
	return "", false, err
}

// GetAgentConfig returns the configuration the control plane holds for the
// authenticated agent.
func (c *Client) GetAgentConfig(ctx context.Context) (*messages.AgentConfig, error) {
	return expect[*messages.AgentConfig](ctx, c, messages.GetAgentConfig{})
}
