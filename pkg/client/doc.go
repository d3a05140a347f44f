// Package client is the agent's control-plane API client.
//
// Every call is a single POST of a tagged JSON request to one API address.
// The answer is either a response object or an error object; the two are told
// apart by shape, error shape first.
//
// # Claiming an agent
//
// A fresh agent has no secret. It polls with the claim key shown to the user
// until the claim is accepted:
//
//	c, err := client.New("https://api.example.net/agent")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	secret, ok, err := c.TryExchangeClaimForSecret(ctx, claimKey)
//	switch {
//	case err != nil:
//	    log.Fatal(err)
//	case !ok:
//	    // not claimed yet, ask again later
//	}
//
// # Authenticated calls
//
// Once the secret is known, build a new client that carries it:
//
//	c, _ := client.New(apiURL, client.WithAgentSecret(secret))
//	addr, err := c.GetControlAddr(ctx)
//	signed, err := c.SignTunnelRequest(ctx, messages.TunnelRequest{...})
//
// # Errors
//
// Failed calls return an *Error. Use errors.Is with ErrTransport, ErrParse,
// ErrServer or ErrUnexpectedResponse to branch on the kind, or errors.As to
// read the server's code and message:
//
//	var apiErr *client.Error
//	if errors.As(err, &apiErr) && apiErr.Kind == client.KindServer {
//	    fmt.Println(apiErr.Code, apiErr.Message)
//	}
//
// The client never retries. Timeouts come from the http.Client passed with
// WithHTTPClient.
package client
