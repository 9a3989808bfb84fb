/*
Package authsdk is the client-side authentication layer for the portal
backend. It owns the session lifecycle, seals tokens at rest, and hands
the embedding application an HTTP transport with bearer injection, retry,
a circuit breaker, and automatic 401 recovery already wired in.

# Overview

Everything is organized around one type:

  - Manager: the auth session state machine. Create one per application.

The Manager exposes auth state as immutable snapshots plus a subscription
stream, so UI layers can render from State without touching tokens:

	backend := storage.NewMemory()
	mgr, err := authsdk.New(authsdk.DefaultConfig("https://api.portal.example.com"), backend, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer mgr.Close()

	// Restore a persisted session, if any. Never blocks startup.
	mgr.Initialize(ctx)

	cancel := mgr.Subscribe(func(s authsdk.State) {
		fmt.Println("authenticated:", s.Authenticated)
	})
	defer cancel()

	if err := mgr.Login(ctx, authsdk.Credentials{Email: "a@example.com", Password: "secret"}); err != nil {
		// State().Err carries the human-readable message.
	}

# Making API Calls

Transport() returns the authenticated httpx.Client. Every call through it
gets the current bearer token, a request ID, retry with exponential
backoff, and circuit-breaker protection. A 401 triggers exactly one token
refresh followed by one replay of the original request:

	var out ProfileResponse
	err := mgr.Transport().Get(ctx, "/profile", &out)

# Token Refresh

Refresh is single-flight: any number of concurrent callers (the timer,
401 replays from parallel requests, explicit calls) coalesce into one
network call and share its outcome. A failed refresh ends the session,
clears storage, and returns ErrSessionEnded.

# Token Storage

Tokens are sealed with an authenticated cipher under a process-local key
before they reach the storage backend. Anything that fails to unseal
(tampered, or sealed by a previous process) reads back as absent, so a
restart degrades to anonymous rather than erroring.

# Thread Safety

Manager is safe for concurrent use. Subscribers are invoked outside the
internal lock; a subscriber may call back into the Manager.
*/
package authsdk
